package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rahul/esteira/internal/agent"
)

const promptPrefix = "prompt:"

// fakePrompts returns "prompt:<agent>" so the fake agent knows who it is.
type fakePrompts struct {
	fail map[string]bool
}

func (p fakePrompts) SystemPrompt(ctx context.Context, agentID string) (string, error) {
	if p.fail[agentID] {
		return "", errors.New("no prompt file")
	}
	return promptPrefix + agentID, nil
}

type call struct {
	agent  string
	input  string
	prompt string
}

// reply scripts one invocation. hold blocks until the context is cancelled.
type reply struct {
	chunks []string
	err    string
	hold   bool
}

// fakeAgent answers every call with a protocol response naming its agent
// and call number, unless script overrides it.
type fakeAgent struct {
	mu     sync.Mutex
	calls  []call
	script func(agentID string, n int) *reply
}

func agentOf(prompt string) string {
	id := strings.TrimPrefix(prompt, promptPrefix)
	if i := strings.IndexAny(id, "\n"); i >= 0 {
		id = id[:i]
	}
	return id
}

func defaultReply(agentID string, n int) reply {
	return reply{chunks: []string{
		fmt.Sprintf("[AGENT:%s][STATUS:done]\nWorking.\n", agentID),
		"[TASKS]\n- [x] draft\n[/TASKS]\n",
		fmt.Sprintf("[OUTPUT:%s.md]\noutput of %s #%d\n[/OUTPUT]", agentID, agentID, n),
	}}
}

func (f *fakeAgent) Invoke(ctx context.Context, input, systemPrompt string, opts agent.Options) <-chan agent.StreamEvent {
	id := agentOf(systemPrompt)

	f.mu.Lock()
	f.calls = append(f.calls, call{agent: id, input: input, prompt: systemPrompt})
	n := 0
	for _, c := range f.calls {
		if c.agent == id {
			n++
		}
	}
	f.mu.Unlock()

	r := defaultReply(id, n)
	if f.script != nil {
		if custom := f.script(id, n); custom != nil {
			r = *custom
		}
	}

	ch := make(chan agent.StreamEvent, len(r.chunks)+1)
	go func() {
		defer close(ch)
		if r.hold {
			<-ctx.Done()
			return
		}
		var full strings.Builder
		for _, c := range r.chunks {
			full.WriteString(c)
			ch <- agent.StreamEvent{Type: agent.EventChunk, Content: c, Timestamp: time.Now()}
		}
		if r.err != "" {
			ch <- agent.StreamEvent{Type: agent.EventError, Content: r.err, Timestamp: time.Now()}
			return
		}
		ch <- agent.StreamEvent{Type: agent.EventDone, Content: full.String(), Timestamp: time.Now()}
	}()
	return ch
}

func (f *fakeAgent) callsFor(agentID string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.agent == agentID {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAgent) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, c := range f.calls {
		ids = append(ids, c.agent)
	}
	return ids
}

// memStore keeps every saved state snapshot and artifact in memory.
type memStore struct {
	mu        sync.Mutex
	saves     []*State
	artifacts map[string]string
	// failFrom makes every save from the nth one on fail (1-based).
	failFrom int
}

func newMemStore() *memStore {
	return &memStore{artifacts: make(map[string]string)}
}

func (s *memStore) SaveState(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFrom > 0 && len(s.saves)+1 >= s.failFrom {
		return errors.New("disk full")
	}
	s.saves = append(s.saves, st.Clone())
	return nil
}

func (s *memStore) LoadState(sessionID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saves) - 1; i >= 0; i-- {
		if s.saves[i].SessionID == sessionID {
			return s.saves[i].Clone(), nil
		}
	}
	return nil, errors.New("not found")
}

func (s *memStore) WriteArtifact(meta ArtifactMeta, name, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := meta.SessionID + "/" + name
	s.artifacts[path] = content
	return path, nil
}

func (s *memStore) ReadArtifact(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.artifacts[path]
	if !ok {
		return "", errors.New("no such artifact")
	}
	return content, nil
}

func (s *memStore) snapshots() []*State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*State(nil), s.saves...)
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) named(name EventName) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, name EventName, count int) Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.named(name)) >= count
	}, 5*time.Second, 5*time.Millisecond, "waiting for %d %s events", count, name)
	return r.named(name)[count-1]
}

// names lists event names, leaving out stream and tasksUpdated.
func (r *recorder) names() []EventName {
	var out []EventName
	for _, ev := range r.all() {
		if ev.Name != EventStream && ev.Name != EventTasksUpdated {
			out = append(out, ev.Name)
		}
	}
	return out
}

type harness struct {
	orch   *Orchestrator
	agent  *fakeAgent
	store  *memStore
	events *recorder
}

func newHarness(t *testing.T, variants map[string]Variant) *harness {
	t.Helper()
	h := &harness{agent: &fakeAgent{}, store: newMemStore(), events: &recorder{}}
	cfg := DefaultConfig()
	cfg.Variants = variants
	h.orch = New(cfg, Deps{
		Agent:   h.agent,
		Prompts: fakePrompts{},
		Store:   h.store,
		Events:  h.events,
	})
	t.Cleanup(func() { _ = h.orch.Close() })
	return h
}

func abc(approvals ...string) map[string]Variant {
	return map[string]Variant{
		"abc": {Agents: []string{"a", "b", "c"}, Approvals: approvals},
	}
}

// waitDone waits for the loop to stop, failing the test after a while.
func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}
