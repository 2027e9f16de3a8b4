package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/rahul/esteira/internal/parser"
	"github.com/rahul/esteira/internal/pipeline"
	"github.com/rahul/esteira/internal/preview"
)

// excerptRunes bounds the artifact preview sent with approval requests.
const excerptRunes = 600

// FormatEvent renders a notification as chat text. Stream chunks are not
// meant for chats and report false.
func FormatEvent(ev pipeline.Event) (string, bool) {
	switch ev.Name {
	case pipeline.EventStarted:
		return fmt.Sprintf("🚀 Pipeline %s started.", ev.SessionID), true
	case pipeline.EventProcessing:
		return fmt.Sprintf("⚙️ [%d/%d] %s is working...", ev.Step, ev.TotalSteps, ev.Agent), true
	case pipeline.EventTasksUpdated:
		return fmt.Sprintf("📋 %s\n%s", ev.Agent, FormatTasks(ev.Tasks)), true
	case pipeline.EventDone:
		return fmt.Sprintf("✅ [%d/%d] %s finished: %s", ev.Step, ev.TotalSteps, ev.Agent, ev.ArtifactPath), true
	case pipeline.EventApprovalRequired:
		return fmt.Sprintf("✋ [%d/%d] %s produced %s and needs your approval.\n\n%s\n\nReply /approve or /reject <feedback>.",
			ev.Step, ev.TotalSteps, ev.Agent, ev.ArtifactName, preview.Excerpt(ev.ArtifactContent, excerptRunes)), true
	case pipeline.EventSelectionRequired:
		return "🎨 Choose a visual theme for the landing page: /theme <id>", true
	case pipeline.EventRollback:
		step := 0
		if ev.TargetStep != nil {
			step = *ev.TargetStep
		}
		return fmt.Sprintf("⏪ Rolled back to step %d (%s).", step+1, ev.TargetAgent), true
	case pipeline.EventComplete:
		d := time.Duration(ev.DurationMs) * time.Millisecond
		return fmt.Sprintf("🏁 Pipeline %s completed in %s with %d artifacts.", ev.SessionID, d.Round(time.Second), len(ev.Artifacts)), true
	case pipeline.EventError:
		if ev.Step > 0 {
			return fmt.Sprintf("❌ [%d/%d] %s: %s", ev.Step, ev.TotalSteps, ev.Agent, ev.Error), true
		}
		return "❌ " + ev.Error, true
	}
	return "", false
}

// FormatTasks renders a checklist with the protocol's markers.
func FormatTasks(tasks []parser.Task) string {
	var b strings.Builder
	for _, t := range tasks {
		mark := " "
		switch t.Status {
		case parser.TaskCompleted:
			mark = "x"
		case parser.TaskInProgress:
			mark = "~"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, t.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

var stepIcons = map[pipeline.StepStatus]string{
	pipeline.StepPending:          "·",
	pipeline.StepExecuting:        "⚙️",
	pipeline.StepAwaitingApproval: "✋",
	pipeline.StepCompleted:        "✅",
	pipeline.StepError:            "❌",
}

// FormatState renders a session overview for /status.
func FormatState(st *pipeline.State) string {
	if st == nil {
		return "No pipeline has been started."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %s (step %d/%d)", st.SessionID, st.Status, st.CurrentStepIndex+1, len(st.Steps))
	if st.Theme != "" {
		fmt.Fprintf(&b, ", theme %s", st.Theme)
	}
	for i, step := range st.Steps {
		fmt.Fprintf(&b, "\n%d. %s %s", i+1, stepIcons[step.Status], step.AgentID)
		if n := st.RejectionCounts[i]; n > 0 {
			fmt.Fprintf(&b, " (rejected %dx)", n)
		}
	}
	if st.Error != nil {
		fmt.Fprintf(&b, "\nError: %s", *st.Error)
	}
	return b.String()
}
