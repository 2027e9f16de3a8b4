package agent

import "time"

// EventType identifies the kind of stream event.
type EventType string

const (
	// EventChunk carries one incremental piece of agent output.
	EventChunk EventType = "chunk"
	// EventDone carries the complete response of the successful attempt.
	EventDone EventType = "done"
	// EventError carries the last failure after retries are exhausted.
	EventError EventType = "error"
)

// StreamEvent is one item of an invocation's output stream. A stream holds
// zero or more chunks followed by exactly one done or error event.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
