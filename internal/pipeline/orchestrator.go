// Package pipeline sequences agent invocations into a recoverable run.
//
// An Orchestrator owns one session at a time. Its execution loop runs the
// steps of a variant in order, streams each agent's output, stores the
// resulting artifact and suspends at two kinds of human gate: artifact
// approval and theme selection. Every state transition is persisted before
// the loop moves on, and the notifications of a transition are published
// after its persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rahul/esteira/internal/agent"
	"github.com/rahul/esteira/internal/governance"
	"github.com/rahul/esteira/internal/parser"
)

// DefaultMaxRejections is how many rejections of the same step abort a run.
const DefaultMaxRejections = 3

var (
	ErrAlreadyRunning = errors.New("pipeline: a run is already in progress")
	ErrNoSession      = errors.New("pipeline: no session")
	ErrInvalidStep    = errors.New("pipeline: invalid step")
	ErrUnknownVariant = errors.New("pipeline: unknown variant")
	ErrCompleted      = errors.New("pipeline: session already completed")
)

// Invoker runs one agent call and streams its events.
type Invoker interface {
	Invoke(ctx context.Context, input, systemPrompt string, opts agent.Options) <-chan agent.StreamEvent
}

// PromptLoader returns the system prompt of an agent.
type PromptLoader interface {
	SystemPrompt(ctx context.Context, agentID string) (string, error)
}

// ArtifactMeta describes who produced an artifact.
type ArtifactMeta struct {
	Agent     string
	SessionID string
	Created   time.Time
	Status    string
}

// Store persists session state and artifacts.
type Store interface {
	SaveState(st *State) error
	LoadState(sessionID string) (*State, error)
	// WriteArtifact stores content under name in the session's scope and
	// returns the path to record on the step.
	WriteArtifact(meta ArtifactMeta, name, content string) (string, error)
	ReadArtifact(path string) (string, error)
}

// Config holds the orchestrator defaults.
type Config struct {
	Variants map[string]Variant
	// Approvals overrides the variant's approval set per agent.
	Approvals     map[string]bool
	Timeout       time.Duration
	Retries       int
	MaxRejections int
}

// DefaultConfig returns the built-in variants and the client's call limits.
func DefaultConfig() Config {
	return Config{
		Variants:      DefaultVariants(),
		Timeout:       agent.DefaultTimeout,
		Retries:       agent.DefaultRetries,
		MaxRejections: DefaultMaxRejections,
	}
}

// Deps are the collaborators of an Orchestrator. Events and Policy are
// optional.
type Deps struct {
	Agent   Invoker
	Prompts PromptLoader
	Store   Store
	Events  Broadcaster
	Policy  governance.PolicyEngine
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator drives a single pipeline session.
type Orchestrator struct {
	cfg     Config
	agent   Invoker
	prompts PromptLoader
	store   Store
	events  Broadcaster
	policy  governance.PolicyEngine

	// controlMu serializes Start, Resume, Rollback and Close.
	controlMu sync.Mutex

	mu        sync.Mutex
	state     *State
	variant   Variant
	approvals map[string]bool
	timeout   time.Duration
	retries   int
	run       *run

	approval gate[Decision]
	theme    gate[string]
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Variants == nil {
		cfg.Variants = DefaultVariants()
	}
	if cfg.MaxRejections <= 0 {
		cfg.MaxRejections = DefaultMaxRejections
	}
	if deps.Events == nil {
		deps.Events = discard{}
	}
	return &Orchestrator{
		cfg:     cfg,
		agent:   deps.Agent,
		prompts: deps.Prompts,
		store:   deps.Store,
		events:  deps.Events,
		policy:  deps.Policy,
	}
}

// StartOption overrides a Config default for one run. Options given to
// Resume apply on top of the settings the run was persisted with.
type StartOption func(*startOptions)

type startOptions struct {
	approvals map[string]bool
	timeout   time.Duration
	retries   int
}

func (so startOptions) persisted() *RunOptions {
	return &RunOptions{
		Approvals: copyApprovals(so.approvals),
		TimeoutMs: so.timeout.Milliseconds(),
		Retries:   so.retries,
	}
}

// WithApprovals overrides the approval requirement of the given agents.
func WithApprovals(m map[string]bool) StartOption {
	return func(o *startOptions) {
		for k, v := range m {
			o.approvals[k] = v
		}
	}
}

func WithTimeout(d time.Duration) StartOption {
	return func(o *startOptions) { o.timeout = d }
}

func WithRetries(n int) StartOption {
	return func(o *startOptions) { o.retries = n }
}

// Start begins a new run of variant ("" selects DefaultVariant) on input.
// It returns once the initial state is persisted; the steps run in the
// background.
func (o *Orchestrator) Start(ctx context.Context, sessionID, input, variant string, opts ...StartOption) error {
	o.controlMu.Lock()
	defer o.controlMu.Unlock()

	if err := o.idle(); err != nil {
		return err
	}
	v, err := o.resolveVariant(variant)
	if err != nil {
		return err
	}

	so := startOptions{approvals: o.baseApprovals(v), timeout: o.cfg.Timeout, retries: o.cfg.Retries}
	for _, opt := range opts {
		opt(&so)
	}

	st := &State{
		SessionID:       sessionID,
		Status:          StatusExecuting,
		Steps:           make([]Step, len(v.Agents)),
		StartedAt:       time.Now(),
		Variant:         v.Name,
		Input:           input,
		RejectionCounts: make(map[int]int),
		Options:         so.persisted(),
	}
	for i, id := range v.Agents {
		st.Steps[i] = Step{AgentID: id, Status: StepPending}
	}
	if err := o.store.SaveState(st); err != nil {
		return fmt.Errorf("failed to persist initial state: %w", err)
	}

	o.mu.Lock()
	o.state = st
	o.variant = v
	o.approvals = so.approvals
	o.timeout = so.timeout
	o.retries = so.retries
	o.publish(Event{Name: EventStarted, SessionID: sessionID})
	o.mu.Unlock()

	log.Printf("[Pipeline] Session %s started: variant %s, %d steps", sessionID, v.Name, len(st.Steps))
	o.launch(ctx, 0, input, false)
	return nil
}

// Resume reloads a persisted session and continues it at its current step.
// A step caught mid-execution runs again; a step awaiting approval waits for
// a decision again; a failed step is retried. The run keeps the approvals,
// timeout and retries it was persisted with unless opts override them.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string, opts ...StartOption) error {
	o.controlMu.Lock()
	defer o.controlMu.Unlock()

	if err := o.idle(); err != nil {
		return err
	}
	st, err := o.store.LoadState(sessionID)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrNoSession, sessionID, err)
	}
	if st.Status == StatusCompleted {
		return fmt.Errorf("%w: %s", ErrCompleted, sessionID)
	}
	if len(st.Steps) == 0 || st.CurrentStepIndex < 0 || st.CurrentStepIndex >= len(st.Steps) {
		return fmt.Errorf("%w: session %s has step index %d", ErrInvalidStep, sessionID, st.CurrentStepIndex)
	}
	v, err := o.resolveVariant(st.Variant)
	if err != nil {
		return err
	}
	if st.RejectionCounts == nil {
		st.RejectionCounts = make(map[int]int)
	}

	so := startOptions{approvals: o.baseApprovals(v), timeout: o.cfg.Timeout, retries: o.cfg.Retries}
	if st.Options != nil {
		for k, val := range st.Options.Approvals {
			so.approvals[k] = val
		}
		so.timeout = time.Duration(st.Options.TimeoutMs) * time.Millisecond
		so.retries = st.Options.Retries
	}
	for _, opt := range opts {
		opt(&so)
	}
	st.Options = so.persisted()

	from := st.CurrentStepIndex
	awaiting := false
	switch st.Steps[from].Status {
	case StepAwaitingApproval:
		awaiting = true
	case StepCompleted:
		from++
	default:
		st.Steps[from].reset()
	}
	if from < len(st.Steps) {
		st.CurrentStepIndex = from
	}
	st.Status = StatusExecuting
	st.Error = nil
	if err := o.store.SaveState(st); err != nil {
		return fmt.Errorf("failed to persist resumed state: %w", err)
	}

	o.mu.Lock()
	o.state = st
	o.variant = v
	o.approvals = so.approvals
	o.timeout = so.timeout
	o.retries = so.retries
	o.publish(Event{Name: EventStarted, SessionID: sessionID})
	o.mu.Unlock()

	input := ""
	if !awaiting && from < len(st.Steps) {
		if input, err = o.inputFor(from); err != nil {
			return err
		}
	}
	log.Printf("[Pipeline] Session %s resumed at step %d/%d", sessionID, from+1, len(st.Steps))
	o.launch(ctx, from, input, awaiting)
	return nil
}

// Approve resolves a pending approval. It returns false when no step is
// waiting for one; the decision is then dropped.
func (o *Orchestrator) Approve(approved bool, feedback string) bool {
	return o.approval.resolve(Decision{Approved: approved, Feedback: strings.TrimSpace(feedback)})
}

// SelectTheme resolves a pending theme selection. It returns false when no
// step is waiting for one.
func (o *Orchestrator) SelectTheme(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	return o.theme.resolve(id)
}

// AwaitingApproval reports whether the loop is parked at an approval gate.
func (o *Orchestrator) AwaitingApproval() bool {
	return o.approval.armed()
}

// AwaitingTheme reports whether the loop is parked at the theme gate.
func (o *Orchestrator) AwaitingTheme() bool {
	return o.theme.armed()
}

// Rollback rewinds the session to step target and runs it again with the
// artifact of the step before it as input. A negative target selects the
// step before the current one. Any in-flight step or pending gate of the
// current run is abandoned first.
func (o *Orchestrator) Rollback(ctx context.Context, target int) error {
	o.controlMu.Lock()
	defer o.controlMu.Unlock()

	o.mu.Lock()
	st := o.state
	if st == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	if target < 0 {
		target = max(st.CurrentStepIndex-1, 0)
	}
	if target >= len(st.Steps) || target > st.CurrentStepIndex {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d (current step is %d of %d)", ErrInvalidStep, target, st.CurrentStepIndex, len(st.Steps))
	}
	o.mu.Unlock()

	o.stop(true)

	o.mu.Lock()
	for j := target; j < len(st.Steps); j++ {
		st.Steps[j].reset()
		delete(st.RejectionCounts, j)
	}
	st.CurrentStepIndex = target
	st.Status = StatusExecuting
	st.Error = nil
	st.CompletedAt = nil
	st.Theme = ""
	if err := o.store.SaveState(st); err != nil {
		err = o.persistFailed(err)
		o.mu.Unlock()
		return err
	}
	o.publish(Event{
		Name:        EventRollback,
		SessionID:   st.SessionID,
		TargetStep:  ptr(target),
		TargetAgent: st.Steps[target].AgentID,
	})
	o.mu.Unlock()

	input, err := o.inputFor(target)
	if err != nil {
		return err
	}
	log.Printf("[Pipeline] Rolled back to step %d (%s)", target+1, st.Steps[target].AgentID)
	o.launch(ctx, target, input, false)
	return nil
}

// UpdateApprovalConfig merges m into the approval set of the current run.
// It takes effect from the next step that finishes.
func (o *Orchestrator) UpdateApprovalConfig(m map[string]bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.approvals == nil {
		o.approvals = make(map[string]bool)
	}
	for k, v := range m {
		o.approvals[k] = v
	}
	log.Printf("[Pipeline] Approval config updated: %v", o.approvals)

	if o.state == nil {
		return
	}
	if o.state.Options == nil {
		o.state.Options = &RunOptions{TimeoutMs: o.timeout.Milliseconds(), Retries: o.retries}
	}
	o.state.Options.Approvals = copyApprovals(o.approvals)
	if err := o.store.SaveState(o.state); err != nil {
		log.Printf("[Pipeline] Failed to persist approval config: %v", err)
	}
}

// State returns a copy of the current state, or nil before the first run.
func (o *Orchestrator) State() *State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Wait blocks until the execution loop stops: the run completed, failed or
// was closed. A run parked at a gate keeps Wait blocked. Loops restarted by
// Rollback are waited for too.
func (o *Orchestrator) Wait() {
	for {
		o.mu.Lock()
		r := o.run
		o.mu.Unlock()
		if r == nil {
			return
		}
		<-r.done

		o.controlMu.Lock()
		o.mu.Lock()
		same := o.run == r
		o.mu.Unlock()
		o.controlMu.Unlock()
		if same {
			return
		}
	}
}

// Close stops the execution loop and kills any running agent. The persisted
// state is left as is so the session can be resumed.
func (o *Orchestrator) Close() error {
	o.controlMu.Lock()
	defer o.controlMu.Unlock()
	o.stop(false)
	return nil
}

func (o *Orchestrator) idle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != nil && !o.state.Status.Terminal() && o.running() {
		return ErrAlreadyRunning
	}
	return nil
}

// running reports whether the loop goroutine is alive. Callers hold mu.
func (o *Orchestrator) running() bool {
	if o.run == nil {
		return false
	}
	select {
	case <-o.run.done:
		return false
	default:
		return true
	}
}

func (o *Orchestrator) resolveVariant(name string) (Variant, error) {
	if name == "" {
		name = DefaultVariant
	}
	v, ok := o.cfg.Variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
	}
	v.Name = name
	return v, nil
}

func (o *Orchestrator) baseApprovals(v Variant) map[string]bool {
	m := v.ApprovalMap()
	for k, val := range o.cfg.Approvals {
		m[k] = val
	}
	return m
}

// launch starts the execution loop at step from. Callers hold controlMu.
func (o *Orchestrator) launch(ctx context.Context, from int, input string, awaiting bool) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.run = r
	o.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		o.loop(runCtx, from, input, awaiting)
	}()
}

// stop cancels the current loop and waits for it to exit. Callers hold
// controlMu.
func (o *Orchestrator) stop(reject bool) {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	if reject {
		o.approval.resolve(Decision{Approved: false})
	}
	<-r.done
	o.approval.disarm()
	o.theme.disarm()
}

func (o *Orchestrator) loop(ctx context.Context, from int, input string, awaiting bool) {
	total := len(o.State().Steps)
	prev := input

	for i := from; i < total; i++ {
		var output string
		needsApproval := true

		if awaiting {
			awaiting = false
			var err error
			if output, err = o.artifactOf(i); err != nil {
				o.failStep(ctx, i, err.Error())
				return
			}
		} else {
			if err := o.awaitTheme(ctx, i); err != nil {
				return
			}
			var ok bool
			output, needsApproval, ok = o.runStep(ctx, i, prev)
			if !ok {
				return
			}
		}

		if !needsApproval {
			prev = output
			continue
		}

		decision, err := o.awaitApproval(ctx, i)
		if err != nil {
			return
		}
		if decision.Approved {
			if err := o.commit(ctx, func(st *State) []Event {
				st.Steps[i].Status = StepCompleted
				st.Status = StatusExecuting
				return nil
			}); err != nil {
				return
			}
			log.Printf("[Pipeline] Step %d/%d approved", i+1, total)
			prev = output
			continue
		}

		next, ok := o.reject(ctx, i, decision.Feedback)
		if !ok {
			return
		}
		prev = next
		i--
	}

	o.complete(ctx)
}

// commit applies fn to the state, persists it and publishes the events fn
// returns, all under the state lock. It refuses to touch the state once ctx
// is done, so a superseded loop cannot write over a rollback.
func (o *Orchestrator) commit(ctx context.Context, fn func(st *State) []Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	events := fn(o.state)
	if err := o.store.SaveState(o.state); err != nil {
		return o.persistFailed(err)
	}
	for _, ev := range events {
		o.publish(ev)
	}
	return nil
}

// emit publishes events that carry no state change.
func (o *Orchestrator) emit(ctx context.Context, events ...Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ev := range events {
		o.publish(ev)
	}
	return nil
}

// persistFailed marks the run failed after a state write error. Callers hold
// mu.
func (o *Orchestrator) persistFailed(cause error) error {
	st := o.state
	msg := fmt.Sprintf("failed to persist state: %v", cause)
	log.Printf("[Pipeline] %s", msg)

	i := st.CurrentStepIndex
	if i >= 0 && i < len(st.Steps) {
		st.Steps[i].Status = StepError
	}
	st.fail(msg)
	if err := o.store.SaveState(st); err != nil {
		log.Printf("[Pipeline] Retry of state write failed: %v", err)
	}
	o.publish(o.errorEvent(i, msg))
	return fmt.Errorf("pipeline: %s: %w", msg, cause)
}

// publish stamps and forwards an event. Callers hold mu.
func (o *Orchestrator) publish(ev Event) {
	ev.Timestamp = time.Now()
	if ev.SessionID == "" && o.state != nil {
		ev.SessionID = o.state.SessionID
	}
	o.events.Publish(ev)
}

// errorEvent builds the error notification for step i. Callers hold mu.
func (o *Orchestrator) errorEvent(i int, msg string) Event {
	ev := Event{Name: EventError, Error: msg, TotalSteps: len(o.state.Steps)}
	if i >= 0 && i < len(o.state.Steps) {
		ev.Agent = o.state.Steps[i].AgentID
		ev.Step = i + 1
	}
	return ev
}

func (o *Orchestrator) awaitTheme(ctx context.Context, i int) error {
	o.mu.Lock()
	themed := o.variant.ThemeAgent != "" && o.state.Steps[i].AgentID == o.variant.ThemeAgent && o.state.Theme == ""
	sessionID := o.state.SessionID
	o.mu.Unlock()
	if !themed {
		return nil
	}

	ch := o.theme.arm()
	if err := o.emit(ctx, Event{Name: EventSelectionRequired, SessionID: sessionID}); err != nil {
		o.theme.disarm()
		return err
	}
	log.Printf("[Pipeline] Waiting for theme selection")

	theme, err := o.theme.wait(ctx, ch)
	if err != nil {
		return err
	}
	log.Printf("[Pipeline] Theme selected: %s", theme)
	return o.commit(ctx, func(st *State) []Event {
		st.Theme = theme
		return nil
	})
}

// runStep executes step i on input. It returns the agent's raw response and
// whether the step now awaits approval; ok is false when the run must stop.
func (o *Orchestrator) runStep(ctx context.Context, i int, input string) (output string, awaiting, ok bool) {
	var (
		agentID, sessionID, theme string
		themed                    bool
		callOpts                  agent.Options
	)
	err := o.commit(ctx, func(st *State) []Event {
		st.CurrentStepIndex = i
		st.Status = StatusExecuting
		step := &st.Steps[i]
		step.reset()
		step.Status = StepExecuting
		step.StartedAt = ptr(time.Now())

		agentID, sessionID, theme = step.AgentID, st.SessionID, st.Theme
		themed = agentID == o.variant.ThemeAgent
		callOpts = agent.Options{Timeout: o.timeout, Retries: o.retries}
		return []Event{{
			Name:       EventProcessing,
			Agent:      agentID,
			Step:       i + 1,
			TotalSteps: len(st.Steps),
			Message:    fmt.Sprintf("%s is working on step %d of %d", agentID, i+1, len(st.Steps)),
		}}
	})
	if err != nil {
		return "", false, false
	}
	log.Printf("[Pipeline] Step %d: %s", i+1, agentID)

	prompt, err := o.prompts.SystemPrompt(ctx, agentID)
	if err != nil {
		o.failStep(ctx, i, fmt.Sprintf("failed to load prompt for %s: %v", agentID, err))
		return "", false, false
	}
	if themed && theme != "" {
		prompt += "\n\n---\n\n## Visual theme\n\nBuild the page with the theme: " + theme
	}

	var (
		acc      strings.Builder
		tasks    []parser.Task
		final    string
		failure  string
		finished bool
	)
	for ev := range o.agent.Invoke(ctx, input, prompt, callOpts) {
		switch ev.Type {
		case agent.EventChunk:
			acc.WriteString(ev.Content)
			events := []Event{{Name: EventStream, Agent: agentID, Chunk: ev.Content}}
			if parsed := parser.Parse(acc.String()); !parser.TasksEqual(parsed.Tasks, tasks) {
				tasks = parsed.Tasks
				if tasks == nil {
					tasks = []parser.Task{}
				}
				events = append(events, Event{Name: EventTasksUpdated, Agent: agentID, Tasks: tasks})
			}
			if err := o.emit(ctx, events...); err != nil {
				return "", false, false
			}
		case agent.EventDone:
			final, finished = ev.Content, true
		case agent.EventError:
			failure = ev.Content
		}
	}
	if ctx.Err() != nil {
		return "", false, false
	}
	if !finished {
		if failure == "" {
			failure = "stream ended without a result"
		}
		o.failStep(ctx, i, fmt.Sprintf("%s failed: %s", agentID, failure))
		return "", false, false
	}

	msg := parser.Parse(final)
	if msg.IsFallback() {
		log.Printf("[Pipeline] Warning: %s answered without a protocol header", agentID)
	}
	name, content := o.artifactFor(ctx, i, agentID, sessionID, msg, final)
	path, err := o.store.WriteArtifact(ArtifactMeta{
		Agent:     agentID,
		SessionID: sessionID,
		Created:   time.Now(),
		Status:    msg.Status,
	}, name, content)
	if err != nil {
		o.failStep(ctx, i, fmt.Sprintf("failed to store artifact %s: %v", name, err))
		return "", false, false
	}

	err = o.commit(ctx, func(st *State) []Event {
		step := &st.Steps[i]
		step.ArtifactPath = ptr(path)
		step.CompletedAt = ptr(time.Now())
		awaiting = o.approvals[agentID]
		if awaiting {
			step.Status = StepAwaitingApproval
		} else {
			step.Status = StepCompleted
		}
		return []Event{{
			Name:         EventDone,
			Agent:        agentID,
			Step:         i + 1,
			TotalSteps:   len(st.Steps),
			ArtifactPath: path,
		}}
	})
	if err != nil {
		return "", false, false
	}
	return final, awaiting, true
}

// artifactFor picks the stored name and content for a finished step. A named
// output the policy accepts is stored as declared; anything else keeps the
// whole response under NN_<agent>.md.
func (o *Orchestrator) artifactFor(ctx context.Context, i int, agentID, sessionID string, msg parser.Message, raw string) (string, string) {
	fallback := fmt.Sprintf("%02d_%s.md", i+1, agentID)
	if msg.Output == nil {
		return fallback, raw
	}
	name := strings.TrimSpace(msg.Output.Filename)
	if o.policy != nil {
		res, err := o.policy.Evaluate(ctx, governance.Request{Agent: agentID, SessionID: sessionID, Filename: name})
		if err != nil || res.Effect == governance.EffectDeny {
			log.Printf("[Pipeline] Artifact name %q from %s refused (%s), using %s", name, agentID, res.Reason, fallback)
			return fallback, msg.Output.Content
		}
	}
	return name, msg.Output.Content
}

func (o *Orchestrator) awaitApproval(ctx context.Context, i int) (Decision, error) {
	content, err := o.artifactOf(i)
	if err != nil {
		o.failStep(ctx, i, err.Error())
		return Decision{}, err
	}

	ch := o.approval.arm()
	err = o.commit(ctx, func(st *State) []Event {
		st.CurrentStepIndex = i
		st.Status = StatusApprovalRequired
		step := st.Steps[i]
		return []Event{{
			Name:            EventApprovalRequired,
			Agent:           step.AgentID,
			SessionID:       st.SessionID,
			Step:            i + 1,
			TotalSteps:      len(st.Steps),
			ArtifactName:    filepath.Base(*step.ArtifactPath),
			ArtifactContent: content,
		}}
	})
	if err != nil {
		o.approval.disarm()
		return Decision{}, err
	}
	log.Printf("[Pipeline] Step %d awaiting approval", i+1)
	return o.approval.wait(ctx, ch)
}

// reject records a rejection of step i and prepares its re-run. It returns
// the input for the re-run; ok is false when the run must stop.
func (o *Orchestrator) reject(ctx context.Context, i int, feedback string) (string, bool) {
	aborted := false
	err := o.commit(ctx, func(st *State) []Event {
		if st.RejectionCounts == nil {
			st.RejectionCounts = make(map[int]int)
		}
		st.RejectionCounts[i]++
		count := st.RejectionCounts[i]
		agentID := st.Steps[i].AgentID
		log.Printf("[Pipeline] Step %d (%s) rejected (%d/%d)", i+1, agentID, count, o.cfg.MaxRejections)

		if count >= o.cfg.MaxRejections {
			aborted = true
			msg := fmt.Sprintf("%s rejected %d times, aborted", agentID, count)
			st.Steps[i].Status = StepError
			st.fail(msg)
			return []Event{o.errorEvent(i, msg)}
		}
		st.Steps[i].reset()
		st.Status = StatusExecuting
		return nil
	})
	if err != nil || aborted {
		return "", false
	}

	input, err := o.inputFor(i)
	if err != nil {
		o.failStep(ctx, i, err.Error())
		return "", false
	}
	if feedback != "" {
		input += "\n\n---\n\n## Revision feedback\n\n" + feedback
	}
	return input, true
}

func (o *Orchestrator) complete(ctx context.Context) {
	_ = o.commit(ctx, func(st *State) []Event {
		now := time.Now()
		st.Status = StatusCompleted
		st.CompletedAt = &now
		elapsed := now.Sub(st.StartedAt)
		log.Printf("[Pipeline] Session %s completed in %s", st.SessionID, elapsed.Round(time.Millisecond))
		return []Event{{
			Name:       EventComplete,
			SessionID:  st.SessionID,
			DurationMs: elapsed.Milliseconds(),
			Artifacts:  st.Artifacts(),
		}}
	})
}

func (o *Orchestrator) failStep(ctx context.Context, i int, msg string) {
	log.Printf("[Pipeline] Step %d failed: %s", i+1, msg)
	_ = o.commit(ctx, func(st *State) []Event {
		st.Steps[i].Status = StepError
		st.fail(msg)
		return []Event{o.errorEvent(i, msg)}
	})
}

// inputFor returns the input of step i: the artifact of the step before it,
// or the run's original input for the first step.
func (o *Orchestrator) inputFor(i int) (string, error) {
	if i == 0 {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.state.Input, nil
	}
	return o.artifactOf(i - 1)
}

func (o *Orchestrator) artifactOf(i int) (string, error) {
	o.mu.Lock()
	step := o.state.Steps[i]
	o.mu.Unlock()
	if step.ArtifactPath == nil {
		return "", fmt.Errorf("step %d (%s) has no artifact", i+1, step.AgentID)
	}
	content, err := o.store.ReadArtifact(*step.ArtifactPath)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact of %s: %w", step.AgentID, err)
	}
	return content, nil
}
