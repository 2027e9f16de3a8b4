package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/esteira/internal/governance"
	"github.com/rahul/esteira/internal/parser"
)

func TestRun_WithoutApprovalsVisitsEveryStepOnce(t *testing.T) {
	h := newHarness(t, abc())

	require.NoError(t, h.orch.Start(context.Background(), "s1", "the brief", "abc"))
	h.waitDone(t)

	st := h.orch.State()
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 2, st.CurrentStepIndex)
	assert.NotNil(t, st.CompletedAt)
	assert.Nil(t, st.Error)
	for _, step := range st.Steps {
		assert.Equal(t, StepCompleted, step.Status)
		require.NotNil(t, step.ArtifactPath)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.CompletedAt)
	}
	assert.Equal(t, []string{"a", "b", "c"}, h.agent.order())

	calls := h.agent.calls
	assert.Equal(t, "the brief", calls[0].input)
	assert.Contains(t, calls[1].input, "output of a #1")
	assert.Contains(t, calls[2].input, "output of b #1")

	assert.Equal(t, []EventName{
		EventStarted,
		EventProcessing, EventDone,
		EventProcessing, EventDone,
		EventProcessing, EventDone,
		EventComplete,
	}, h.events.names())

	complete := h.events.named(EventComplete)[0]
	assert.Equal(t, "s1", complete.SessionID)
	assert.Equal(t, []string{"s1/a.md", "s1/b.md", "s1/c.md"}, complete.Artifacts)
	assert.Equal(t, "output of a #1", h.store.artifacts["s1/a.md"])

	processing := h.events.named(EventProcessing)[1]
	assert.Equal(t, "b", processing.Agent)
	assert.Equal(t, 2, processing.Step)
	assert.Equal(t, 3, processing.TotalSteps)

	done := h.events.named(EventDone)[2]
	assert.Equal(t, "c", done.Agent)
	assert.Equal(t, "s1/c.md", done.ArtifactPath)
}

func TestRun_StepNotificationsAreOrdered(t *testing.T) {
	h := newHarness(t, map[string]Variant{"one": {Agents: []string{"a"}}})

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "one"))
	h.waitDone(t)

	var got []EventName
	for _, ev := range h.events.all() {
		if len(got) == 0 || got[len(got)-1] != ev.Name {
			got = append(got, ev.Name)
		}
	}
	assert.Equal(t, []EventName{EventStarted, EventProcessing, EventStream, EventTasksUpdated, EventStream, EventDone, EventComplete}, got)

	var chunks strings.Builder
	for _, ev := range h.events.named(EventStream) {
		assert.Equal(t, "a", ev.Agent)
		chunks.WriteString(ev.Chunk)
	}
	assert.Contains(t, chunks.String(), "output of a #1")
}

func TestRun_ApprovalContinuesToNextStep(t *testing.T) {
	h := newHarness(t, abc("b"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	req := h.events.waitFor(t, EventApprovalRequired, 1)

	assert.Equal(t, "b", req.Agent)
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, 2, req.Step)
	assert.Equal(t, 3, req.TotalSteps)
	assert.Equal(t, "b.md", req.ArtifactName)
	assert.Equal(t, "output of b #1", req.ArtifactContent)

	st := h.orch.State()
	assert.Equal(t, StatusApprovalRequired, st.Status)
	assert.Equal(t, 1, st.CurrentStepIndex)
	assert.Equal(t, StepAwaitingApproval, st.Steps[1].Status)
	assert.Equal(t, StepPending, st.Steps[2].Status)
	assert.True(t, h.orch.AwaitingApproval())

	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)

	st = h.orch.State()
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, []string{"a", "b", "c"}, h.agent.order())
	assert.False(t, h.orch.Approve(true, ""), "no approval should be pending")

	names := h.events.names()
	for i, n := range names {
		if n == EventApprovalRequired {
			assert.Equal(t, EventDone, names[i-1], "approval request must follow the step's done")
		}
	}
}

func TestRun_RejectedThreeTimesAborts(t *testing.T) {
	h := newHarness(t, abc("b"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	for n := 1; n <= 3; n++ {
		h.events.waitFor(t, EventApprovalRequired, n)
		require.True(t, h.orch.Approve(false, "not good"))
	}
	h.waitDone(t)

	st := h.orch.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, StepError, st.Steps[1].Status)
	assert.Equal(t, StepPending, st.Steps[2].Status)
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "rejected 3 times, aborted")
	assert.Equal(t, 3, st.RejectionCounts[1])

	assert.Len(t, h.agent.callsFor("b"), 3)
	assert.Empty(t, h.agent.callsFor("c"))

	errs := h.events.named(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "b", errs[0].Agent)
	assert.Equal(t, 2, errs[0].Step)
}

func TestRun_RejectionReRunsSameStep(t *testing.T) {
	h := newHarness(t, abc("b"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	require.True(t, h.orch.Approve(false, "make it shorter"))

	req := h.events.waitFor(t, EventApprovalRequired, 2)
	assert.Equal(t, "output of b #2", req.ArtifactContent)
	assert.Equal(t, 1, h.orch.State().RejectionCounts[1])

	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)

	assert.Equal(t, StatusCompleted, h.orch.State().Status)
	assert.Equal(t, []string{"a", "b", "b", "c"}, h.agent.order())

	rerun := h.agent.callsFor("b")[1]
	assert.True(t, strings.HasPrefix(rerun.input, "output of a #1"), "re-run input should be the previous artifact, got %q", rerun.input)
	assert.Contains(t, rerun.input, "make it shorter")

	var reset bool
	for _, snap := range h.store.snapshots() {
		if snap.RejectionCounts[1] == 1 && snap.Steps[1].Status == StepPending {
			reset = true
			assert.Nil(t, snap.Steps[1].ArtifactPath)
			assert.Nil(t, snap.Steps[1].StartedAt)
			assert.Nil(t, snap.Steps[1].CompletedAt)
		}
	}
	assert.True(t, reset, "rejected step should be persisted as pending")
}

func TestRun_RejectingFirstStepUsesOriginalInput(t *testing.T) {
	h := newHarness(t, abc("a"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "original brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	require.True(t, h.orch.Approve(false, ""))
	h.events.waitFor(t, EventApprovalRequired, 2)
	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)

	calls := h.agent.callsFor("a")
	require.Len(t, calls, 2)
	assert.Equal(t, "original brief", calls[0].input)
	assert.Equal(t, "original brief", calls[1].input)
}

func TestRun_StreamFailureStopsRun(t *testing.T) {
	h := newHarness(t, abc())
	h.agent.script = func(agentID string, n int) *reply {
		if agentID == "b" {
			return &reply{chunks: []string{"[AGENT:b][STATUS:working]"}, err: "agent: exit status 1: boom"}
		}
		return nil
	}

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	h.waitDone(t)

	st := h.orch.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, StepCompleted, st.Steps[0].Status)
	assert.Equal(t, StepError, st.Steps[1].Status)
	assert.Equal(t, StepPending, st.Steps[2].Status)
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "boom")
	assert.Empty(t, h.agent.callsFor("c"))

	errs := h.events.named(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "b", errs[0].Agent)
	assert.Equal(t, 2, errs[0].Step)
	assert.Equal(t, 3, errs[0].TotalSteps)
	assert.Empty(t, h.events.named(EventComplete))
}

func TestRun_PromptFailureStopsRun(t *testing.T) {
	h := newHarness(t, abc())
	h.orch.prompts = fakePrompts{fail: map[string]bool{"a": true}}

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	h.waitDone(t)

	st := h.orch.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, StepError, st.Steps[0].Status)
	assert.Empty(t, h.agent.order())
}

func TestRun_TasksUpdatedOnlyOnChange(t *testing.T) {
	h := newHarness(t, map[string]Variant{"one": {Agents: []string{"a"}}})
	h.agent.script = func(agentID string, n int) *reply {
		return &reply{chunks: []string{
			"[AGENT:a][STATUS:working]\n[TASKS]\n- [ ] gather\n",
			"- [~] write\n[/TASKS]\n",
			"still working\n",
			"[TASKS]\n- [x] other\n[/TASKS]\n",
			"done",
		}}
	}

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "one"))
	h.waitDone(t)

	updates := h.events.named(EventTasksUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, "a", updates[0].Agent)
	assert.Equal(t, []parser.Task{
		{Text: "gather", Status: parser.TaskPending},
		{Text: "write", Status: parser.TaskInProgress},
	}, updates[0].Tasks)
	assert.Len(t, h.events.named(EventStream), 5)

	// No named output: the whole response is stored under the fallback name.
	path := h.orch.State().Steps[0].ArtifactPath
	require.NotNil(t, path)
	assert.Equal(t, "s1/01_a.md", *path)
	assert.Contains(t, h.store.artifacts["s1/01_a.md"], "still working")
}

func TestRun_ThemeGate(t *testing.T) {
	h := newHarness(t, map[string]Variant{
		"themed": {Agents: []string{"a", "landing"}, ThemeAgent: "landing"},
	})

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "themed"))
	sel := h.events.waitFor(t, EventSelectionRequired, 1)
	assert.Equal(t, "s1", sel.SessionID)
	assert.True(t, h.orch.AwaitingTheme())
	assert.Empty(t, h.agent.callsFor("landing"))

	assert.False(t, h.orch.SelectTheme("  "))
	require.True(t, h.orch.SelectTheme("dark-neon"))
	h.waitDone(t)

	st := h.orch.State()
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, "dark-neon", st.Theme)
	calls := h.agent.callsFor("landing")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].prompt, "dark-neon")
	assert.NotContains(t, h.agent.callsFor("a")[0].prompt, "dark-neon")
}

func TestSignalsWithoutWaiterAreDropped(t *testing.T) {
	h := newHarness(t, abc())

	assert.False(t, h.orch.Approve(true, "ok"))
	assert.False(t, h.orch.Approve(false, ""))
	assert.False(t, h.orch.SelectTheme("dark"))
	assert.Nil(t, h.orch.State())
}

func TestStart_Validation(t *testing.T) {
	h := newHarness(t, abc("a"))
	ctx := context.Background()

	err := h.orch.Start(ctx, "s1", "brief", "missing")
	assert.ErrorIs(t, err, ErrUnknownVariant)

	require.NoError(t, h.orch.Start(ctx, "s1", "brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	assert.ErrorIs(t, h.orch.Start(ctx, "s2", "brief", "abc"), ErrAlreadyRunning)

	// Abort the run, then a new one may start.
	for n := 1; n <= 3; n++ {
		h.events.waitFor(t, EventApprovalRequired, n)
		require.True(t, h.orch.Approve(false, ""))
	}
	h.waitDone(t)
	assert.NoError(t, h.orch.Start(ctx, "s2", "brief", "abc"))
}

func TestStart_DefaultVariant(t *testing.T) {
	h := newHarness(t, DefaultVariants())

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", ""))
	h.events.waitFor(t, EventApprovalRequired, 1)

	st := h.orch.State()
	assert.Equal(t, DefaultVariant, st.Variant)
	assert.Len(t, st.Steps, 5)
	assert.Equal(t, "oferta", st.Steps[st.CurrentStepIndex].AgentID)
}

func TestStart_Options(t *testing.T) {
	h := newHarness(t, abc("b"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc",
		WithApprovals(map[string]bool{"b": false}), WithTimeout(0), WithRetries(0)))
	h.waitDone(t)

	assert.Equal(t, StatusCompleted, h.orch.State().Status)
	assert.Empty(t, h.events.named(EventApprovalRequired))
}

func TestUpdateApprovalConfig(t *testing.T) {
	h := newHarness(t, abc("a"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	h.orch.UpdateApprovalConfig(map[string]bool{"c": true})
	require.True(t, h.orch.Approve(true, ""))

	req := h.events.waitFor(t, EventApprovalRequired, 2)
	assert.Equal(t, "c", req.Agent)
	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)
	assert.Equal(t, StatusCompleted, h.orch.State().Status)
}

func TestRollback_ResetsLaterStepsAndReusesArtifact(t *testing.T) {
	h := newHarness(t, abc("c"))
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, "s1", "brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)

	require.NoError(t, h.orch.Rollback(ctx, -1))
	rb := h.events.waitFor(t, EventRollback, 1)
	require.NotNil(t, rb.TargetStep)
	assert.Equal(t, 1, *rb.TargetStep)
	assert.Equal(t, "b", rb.TargetAgent)
	assert.Equal(t, "s1", rb.SessionID)

	h.events.waitFor(t, EventApprovalRequired, 2)
	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)

	assert.Equal(t, StatusCompleted, h.orch.State().Status)
	assert.Equal(t, []string{"a", "b", "c", "b", "c"}, h.agent.order())
	rerun := h.agent.callsFor("b")[1]
	assert.Equal(t, "output of a #1", rerun.input)
	assert.Contains(t, h.agent.callsFor("c")[1].input, "output of b #2")

	var rewound bool
	for _, snap := range h.store.snapshots() {
		if snap.CurrentStepIndex == 1 && snap.Steps[1].Status == StepPending && snap.Steps[2].Status == StepPending {
			rewound = true
			assert.Equal(t, StepCompleted, snap.Steps[0].Status)
			for _, step := range snap.Steps[1:] {
				assert.Nil(t, step.ArtifactPath)
				assert.Nil(t, step.StartedAt)
				assert.Nil(t, step.CompletedAt)
			}
		}
	}
	assert.True(t, rewound, "rollback should persist the rewound state")
}

func TestRollback_ToFirstStepUsesOriginalInput(t *testing.T) {
	h := newHarness(t, abc("b"))
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, "s1", "original brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	require.NoError(t, h.orch.Rollback(ctx, 0))
	h.events.waitFor(t, EventApprovalRequired, 2)
	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)

	calls := h.agent.callsFor("a")
	require.Len(t, calls, 2)
	assert.Equal(t, "original brief", calls[1].input)
	assert.Equal(t, StatusCompleted, h.orch.State().Status)
}

func TestRollback_CancelsInFlightStep(t *testing.T) {
	h := newHarness(t, abc())
	h.agent.script = func(agentID string, n int) *reply {
		if agentID == "b" && n == 1 {
			return &reply{hold: true}
		}
		return nil
	}
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, "s1", "brief", "abc"))
	h.events.waitFor(t, EventProcessing, 2)

	require.NoError(t, h.orch.Rollback(ctx, 0))
	h.waitDone(t)

	assert.Equal(t, StatusCompleted, h.orch.State().Status)
	assert.Equal(t, []string{"a", "b", "a", "b", "c"}, h.agent.order())
	assert.Empty(t, h.events.named(EventError))

	// Nothing from the abandoned attempt is published after the rollback.
	names := h.events.names()
	var rbIdx int
	for i, n := range names {
		if n == EventRollback {
			rbIdx = i
		}
	}
	assert.Equal(t, EventProcessing, names[rbIdx+1])
}

func TestRollback_Validation(t *testing.T) {
	h := newHarness(t, abc("a"))
	ctx := context.Background()

	assert.ErrorIs(t, h.orch.Rollback(ctx, 0), ErrNoSession)

	require.NoError(t, h.orch.Start(ctx, "s1", "brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	assert.ErrorIs(t, h.orch.Rollback(ctx, 5), ErrInvalidStep)
	assert.ErrorIs(t, h.orch.Rollback(ctx, 2), ErrInvalidStep)
}

func TestRollback_ClearsThemeAndRejections(t *testing.T) {
	h := newHarness(t, map[string]Variant{
		"themed": {Agents: []string{"a", "landing"}, Approvals: []string{"landing"}, ThemeAgent: "landing"},
	})
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, "s1", "brief", "themed"))
	h.events.waitFor(t, EventSelectionRequired, 1)
	require.True(t, h.orch.SelectTheme("light"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	require.True(t, h.orch.Approve(false, "again"))
	h.events.waitFor(t, EventApprovalRequired, 2)
	assert.Equal(t, 1, h.orch.State().RejectionCounts[1])

	require.NoError(t, h.orch.Rollback(ctx, 1))
	h.events.waitFor(t, EventSelectionRequired, 2)

	st := h.orch.State()
	assert.Empty(t, st.Theme)
	assert.Zero(t, st.RejectionCounts[1])
	assert.Nil(t, st.Error)
}

func TestResume_FromApprovalRequired(t *testing.T) {
	h := newHarness(t, abc("b"))
	h.store.artifacts["s1/a.md"] = "research"
	h.store.artifacts["s1/b.md"] = "persona draft"
	require.NoError(t, h.store.SaveState(&State{
		SessionID:        "s1",
		Status:           StatusApprovalRequired,
		CurrentStepIndex: 1,
		Variant:          "abc",
		Input:            "brief",
		Steps: []Step{
			{AgentID: "a", Status: StepCompleted, ArtifactPath: ptr("s1/a.md")},
			{AgentID: "b", Status: StepAwaitingApproval, ArtifactPath: ptr("s1/b.md")},
			{AgentID: "c", Status: StepPending},
		},
	}))

	require.NoError(t, h.orch.Resume(context.Background(), "s1"))
	req := h.events.waitFor(t, EventApprovalRequired, 1)
	assert.Equal(t, "b", req.Agent)
	assert.Equal(t, "persona draft", req.ArtifactContent)

	require.True(t, h.orch.Approve(true, ""))
	h.waitDone(t)

	assert.Equal(t, []string{"c"}, h.agent.order())
	assert.Equal(t, "persona draft", h.agent.callsFor("c")[0].input)
	assert.Equal(t, StatusCompleted, h.orch.State().Status)
}

func TestResume_ReRunsInterruptedStep(t *testing.T) {
	h := newHarness(t, abc())
	h.store.artifacts["s1/a.md"] = "research"
	require.NoError(t, h.store.SaveState(&State{
		SessionID:        "s1",
		Status:           StatusExecuting,
		CurrentStepIndex: 1,
		Variant:          "abc",
		Input:            "brief",
		Steps: []Step{
			{AgentID: "a", Status: StepCompleted, ArtifactPath: ptr("s1/a.md")},
			{AgentID: "b", Status: StepExecuting},
			{AgentID: "c", Status: StepPending},
		},
	}))

	require.NoError(t, h.orch.Resume(context.Background(), "s1"))
	h.waitDone(t)

	assert.Equal(t, []string{"b", "c"}, h.agent.order())
	assert.Equal(t, "research", h.agent.callsFor("b")[0].input)
	assert.Equal(t, StatusCompleted, h.orch.State().Status)
}

func TestResume_KeepsRunOptions(t *testing.T) {
	h := newHarness(t, abc("b"))
	h.agent.script = func(agentID string, n int) *reply {
		if agentID == "a" && n == 1 {
			return &reply{hold: true}
		}
		return nil
	}
	ctx := context.Background()

	require.NoError(t, h.orch.Start(ctx, "s1", "brief", "abc",
		WithApprovals(map[string]bool{"b": false, "c": true}), WithRetries(0)))
	h.events.waitFor(t, EventProcessing, 1)
	require.NoError(t, h.orch.Close())

	saved, err := h.store.LoadState("s1")
	require.NoError(t, err)
	require.NotNil(t, saved.Options)
	assert.Equal(t, map[string]bool{"b": false, "c": true}, saved.Options.Approvals)
	assert.Equal(t, 0, saved.Options.Retries)

	events := &recorder{}
	resumed := New(Config{Variants: abc("b")}, Deps{
		Agent:   h.agent,
		Prompts: fakePrompts{},
		Store:   h.store,
		Events:  events,
	})
	t.Cleanup(func() { _ = resumed.Close() })

	require.NoError(t, resumed.Resume(ctx, "s1", WithApprovals(map[string]bool{"c": false})))
	resumed.Wait()

	assert.Equal(t, StatusCompleted, resumed.State().Status)
	assert.Empty(t, events.named(EventApprovalRequired))
	assert.Equal(t, map[string]bool{"b": false, "c": false}, resumed.State().Options.Approvals)
}

func TestUpdateApprovalConfig_IsPersisted(t *testing.T) {
	h := newHarness(t, abc("a"))

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	h.events.waitFor(t, EventApprovalRequired, 1)
	h.orch.UpdateApprovalConfig(map[string]bool{"b": true})

	saved, err := h.store.LoadState("s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, saved.Options.Approvals)
	assert.Equal(t, StatusApprovalRequired, saved.Status)
}

func TestResume_Errors(t *testing.T) {
	h := newHarness(t, abc())
	ctx := context.Background()

	assert.ErrorIs(t, h.orch.Resume(ctx, "ghost"), ErrNoSession)

	require.NoError(t, h.store.SaveState(&State{SessionID: "done", Status: StatusCompleted, Variant: "abc",
		Steps: []Step{{AgentID: "a", Status: StepCompleted}}}))
	assert.ErrorIs(t, h.orch.Resume(ctx, "done"), ErrCompleted)
}

func TestRun_PolicyRefusedFilenameFallsBack(t *testing.T) {
	h := newHarness(t, map[string]Variant{"one": {Agents: []string{"a"}}})
	h.orch.policy = governance.NewArtifactPolicy()
	h.agent.script = func(agentID string, n int) *reply {
		return &reply{chunks: []string{"[AGENT:a][STATUS:done]\n[OUTPUT:../../etc/evil.md]\npayload\n[/OUTPUT]"}}
	}

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "one"))
	h.waitDone(t)

	path := h.orch.State().Steps[0].ArtifactPath
	require.NotNil(t, path)
	assert.Equal(t, "s1/01_a.md", *path)
	assert.Equal(t, "payload", h.store.artifacts["s1/01_a.md"])
}

func TestRun_PersistenceFailureStopsLoudly(t *testing.T) {
	h := newHarness(t, abc())
	h.store.failFrom = 2

	require.NoError(t, h.orch.Start(context.Background(), "s1", "brief", "abc"))
	h.waitDone(t)

	st := h.orch.State()
	assert.Equal(t, StatusError, st.Status)
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "failed to persist state")
	assert.Contains(t, *st.Error, "disk full")
	assert.Empty(t, h.agent.order())

	errs := h.events.named(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "a", errs[0].Agent)
}

func TestStart_InitialPersistFailure(t *testing.T) {
	h := newHarness(t, abc())
	h.store.failFrom = 1

	err := h.orch.Start(context.Background(), "s1", "brief", "abc")
	require.Error(t, err)
	assert.Nil(t, h.orch.State())
	assert.Empty(t, h.events.all())
}
