package pipeline

import "time"

// StepStatus is the lifecycle of a single pipeline step.
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepExecuting        StepStatus = "executing"
	StepAwaitingApproval StepStatus = "awaiting_approval"
	StepCompleted        StepStatus = "completed"
	StepError            StepStatus = "error"
)

// Status is the lifecycle of a whole run.
type Status string

const (
	StatusExecuting        Status = "executing"
	StatusApprovalRequired Status = "approval_required"
	StatusCompleted        Status = "completed"
	StatusError            Status = "error"
)

// Terminal reports whether a run in this status has stopped for good.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Step is one agent invocation of the pipeline.
type Step struct {
	AgentID      string     `json:"agentId"`
	Status       StepStatus `json:"status"`
	ArtifactPath *string    `json:"artifactPath"`
	StartedAt    *time.Time `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
}

func (s *Step) reset() {
	s.Status = StepPending
	s.ArtifactPath = nil
	s.StartedAt = nil
	s.CompletedAt = nil
}

// State is the persisted, recoverable state of one session.
type State struct {
	SessionID        string      `json:"sessionId"`
	Status           Status      `json:"status"`
	CurrentStepIndex int         `json:"currentStepIndex"`
	Steps            []Step      `json:"steps"`
	StartedAt        time.Time   `json:"startedAt"`
	CompletedAt      *time.Time  `json:"completedAt"`
	Error            *string     `json:"error"`
	Variant          string      `json:"variant,omitempty"`
	Input            string      `json:"input"`
	Theme            string      `json:"theme,omitempty"`
	RejectionCounts  map[int]int `json:"rejectionCounts,omitempty"`
	// Options are the run settings in effect, restored on resume.
	Options          *RunOptions `json:"options,omitempty"`
}

// RunOptions are the per-run settings that outlive a restart.
type RunOptions struct {
	Approvals map[string]bool `json:"approvals"`
	TimeoutMs int64           `json:"timeoutMs"`
	Retries   int             `json:"retries"`
}

func (r *RunOptions) clone() *RunOptions {
	if r == nil {
		return nil
	}
	c := *r
	c.Approvals = copyApprovals(r.Approvals)
	return &c
}

func copyApprovals(m map[string]bool) map[string]bool {
	c := make(map[string]bool, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Steps = make([]Step, len(s.Steps))
	for i, step := range s.Steps {
		c.Steps[i] = step
		c.Steps[i].ArtifactPath = clonePtr(step.ArtifactPath)
		c.Steps[i].StartedAt = clonePtr(step.StartedAt)
		c.Steps[i].CompletedAt = clonePtr(step.CompletedAt)
	}
	c.CompletedAt = clonePtr(s.CompletedAt)
	c.Error = clonePtr(s.Error)
	if s.RejectionCounts != nil {
		c.RejectionCounts = make(map[int]int, len(s.RejectionCounts))
		for k, v := range s.RejectionCounts {
			c.RejectionCounts[k] = v
		}
	}
	c.Options = s.Options.clone()
	return &c
}

// Artifacts lists the artifact paths recorded so far, in step order.
func (s *State) Artifacts() []string {
	var paths []string
	for _, step := range s.Steps {
		if step.ArtifactPath != nil {
			paths = append(paths, *step.ArtifactPath)
		}
	}
	return paths
}

func (s *State) fail(msg string) {
	s.Status = StatusError
	s.Error = &msg
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
