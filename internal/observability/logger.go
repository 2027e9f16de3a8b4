package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeRun       EventType = "run"
	EventTypeStep      EventType = "step"
	EventTypeTasks     EventType = "tasks"
	EventTypeApproval  EventType = "approval"
	EventTypeSelection EventType = "selection"
	EventTypeRollback  EventType = "rollback"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger appends structured events to a JSONL file, rotating it once it
// grows past maxSize. With Echo set, events are printed to stdout as well.
type Logger struct {
	Echo bool

	mu      sync.Mutex
	path    string
	maxSize int64
}

func NewLogger(path string) *Logger {
	if path == "" {
		path = filepath.Join("logs", "pipeline.jsonl")
	}
	return &Logger{
		path:    path,
		maxSize: 10 * 1024 * 1024, // 10MB
	}
}

// Path returns the file the logger writes to.
func (l *Logger) Path() string {
	return l.path
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	if l.Echo {
		fmt.Println(string(data))
	}
	l.writeToFile(data)
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.path)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.path, oldPath)
}

// Helper methods for common events

func (l *Logger) LogRun(sessionID, status string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = status
	l.Log(Event{
		Type:      EventTypeRun,
		SessionID: sessionID,
		Data:      data,
	})
}

func (l *Logger) LogStep(sessionID, agent string, step, total int, status, artifact string) {
	data := map[string]any{
		"step":        step,
		"total_steps": total,
		"status":      status,
	}
	if artifact != "" {
		data["artifact"] = artifact
	}
	l.Log(Event{
		Type:      EventTypeStep,
		SessionID: sessionID,
		Agent:     agent,
		Data:      data,
	})
}

func (l *Logger) LogTasks(sessionID, agent string, tasks any) {
	l.Log(Event{
		Type:      EventTypeTasks,
		SessionID: sessionID,
		Agent:     agent,
		Data:      map[string]any{"tasks": tasks},
	})
}

func (l *Logger) LogApproval(sessionID, agent, artifact string) {
	l.Log(Event{
		Type:      EventTypeApproval,
		SessionID: sessionID,
		Agent:     agent,
		Data:      map[string]string{"artifact": artifact},
	})
}

func (l *Logger) LogError(sessionID, agent, message string) {
	l.Log(Event{
		Type:      EventTypeError,
		SessionID: sessionID,
		Agent:     agent,
		Data:      map[string]string{"error": message},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}
