package gateway

import (
	"context"
	"sync"

	"github.com/rahul/esteira/internal/pipeline"
)

type decision struct {
	approved bool
	feedback string
}

type fakeController struct {
	mu          sync.Mutex
	awaitingApp bool
	awaitingTh  bool
	decisions   []decision
	themes      []string
	rollbacks   []int
	rollbackErr error
	approvals   map[string]bool
	state       *pipeline.State
}

func (f *fakeController) Approve(approved bool, feedback string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.awaitingApp {
		return false
	}
	f.decisions = append(f.decisions, decision{approved, feedback})
	return true
}

func (f *fakeController) SelectTheme(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.awaitingTh {
		return false
	}
	f.themes = append(f.themes, id)
	return true
}

func (f *fakeController) Rollback(_ context.Context, target int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks = append(f.rollbacks, target)
	return f.rollbackErr
}

func (f *fakeController) UpdateApprovalConfig(m map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = m
}

func (f *fakeController) State() *pipeline.State { return f.state }

func (f *fakeController) AwaitingApproval() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awaitingApp
}

func (f *fakeController) AwaitingTheme() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.awaitingTh
}
