package gateway

import (
	"fmt"

	"github.com/rahul/esteira/internal/observability"
	"github.com/rahul/esteira/internal/pipeline"
)

// LogSink records pipeline notifications in the structured log and keeps
// the live status line current.
type LogSink struct {
	Logger *observability.Logger
}

func (s LogSink) Publish(ev pipeline.Event) {
	l := s.Logger
	switch ev.Name {
	case pipeline.EventStarted:
		observability.SetStatus(observability.PhaseRunning, "")
		l.LogRun(ev.SessionID, "started", map[string]any{"message": ev.Message})
	case pipeline.EventProcessing:
		observability.SetStatus(observability.PhaseRunning, stepLabel(ev))
		l.LogStep(ev.SessionID, ev.Agent, ev.Step, ev.TotalSteps, "executing", "")
	case pipeline.EventTasksUpdated:
		l.LogTasks(ev.SessionID, ev.Agent, ev.Tasks)
	case pipeline.EventDone:
		l.LogStep(ev.SessionID, ev.Agent, ev.Step, ev.TotalSteps, "completed", ev.ArtifactPath)
	case pipeline.EventApprovalRequired:
		observability.SetStatus(observability.PhaseWaiting, stepLabel(ev))
		l.LogApproval(ev.SessionID, ev.Agent, ev.ArtifactName)
	case pipeline.EventSelectionRequired:
		observability.SetStatus(observability.PhaseWaiting, "theme")
		l.Log(observability.Event{Type: observability.EventTypeSelection, SessionID: ev.SessionID})
	case pipeline.EventRollback:
		target := 0
		if ev.TargetStep != nil {
			target = *ev.TargetStep
		}
		l.Log(observability.Event{
			Type:      observability.EventTypeRollback,
			SessionID: ev.SessionID,
			Agent:     ev.TargetAgent,
			Data:      map[string]int{"target_step": target},
		})
	case pipeline.EventComplete:
		observability.SetStatus(observability.PhaseDone, "")
		l.LogRun(ev.SessionID, "completed", map[string]any{
			"duration_ms": ev.DurationMs,
			"artifacts":   ev.Artifacts,
		})
	case pipeline.EventError:
		observability.SetStatus(observability.PhaseFailed, ev.Agent)
		l.LogError(ev.SessionID, ev.Agent, ev.Error)
	}
}

func stepLabel(ev pipeline.Event) string {
	return fmt.Sprintf("%d/%d %s", ev.Step, ev.TotalSteps, ev.Agent)
}
