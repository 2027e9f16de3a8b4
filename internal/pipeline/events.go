package pipeline

import (
	"time"

	"github.com/rahul/esteira/internal/parser"
)

// EventName identifies a progress notification.
type EventName string

const (
	EventStarted           EventName = "started"
	EventProcessing        EventName = "processing"
	EventStream            EventName = "stream"
	EventTasksUpdated      EventName = "tasksUpdated"
	EventDone              EventName = "done"
	EventApprovalRequired  EventName = "approvalRequired"
	EventSelectionRequired EventName = "selectionRequired"
	EventRollback          EventName = "rollback"
	EventComplete          EventName = "complete"
	EventError             EventName = "error"
)

// Event is a progress notification. Besides SessionID, which every event
// carries, only the fields of the named event are set. Step and TotalSteps
// are 1-based, TargetStep is a 0-based index. Tasks is always encoded so an
// emptied checklist still reaches JSON consumers as [].
type Event struct {
	Name EventName `json:"event"`

	SessionID       string        `json:"sessionId,omitempty"`
	Agent           string        `json:"agent,omitempty"`
	Step            int           `json:"step,omitempty"`
	TotalSteps      int           `json:"totalSteps,omitempty"`
	Message         string        `json:"message,omitempty"`
	Chunk           string        `json:"chunk,omitempty"`
	Tasks           []parser.Task `json:"tasks"`
	ArtifactPath    string        `json:"artifactPath,omitempty"`
	ArtifactName    string        `json:"artifactName,omitempty"`
	ArtifactContent string        `json:"artifactContent,omitempty"`
	TargetStep      *int          `json:"targetStep,omitempty"`
	TargetAgent     string        `json:"targetAgent,omitempty"`
	DurationMs      int64         `json:"durationMs,omitempty"`
	Artifacts       []string      `json:"artifacts,omitempty"`
	Error           string        `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster receives progress notifications. Publish must not block for
// long: it is called while the orchestrator holds its state lock.
type Broadcaster interface {
	Publish(Event)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(Event)

func (f BroadcasterFunc) Publish(ev Event) { f(ev) }

type discard struct{}

func (discard) Publish(Event) {}
