package parser

// TaskStatus is the tri-state marker of a checklist line.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

const (
	// UnknownAgent is reported when the response carries no header.
	UnknownAgent = "unknown"
	// StatusIdle is the status reported alongside UnknownAgent.
	StatusIdle = "idle"
)

// Task is one line of an agent checklist.
type Task struct {
	Text   string     `json:"text"`
	Status TaskStatus `json:"status"`
}

// Output is the named artifact an agent asked to be stored. Filename is
// never empty: an [OUTPUT:] tag without a name is not a tag.
type Output struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Message is the structured view of one agent response.
type Message struct {
	Agent   string  `json:"agent"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Tasks   []Task  `json:"tasks"`
	Output  *Output `json:"output"`
	// Handoff is the lower-cased next agent hint, empty when absent.
	Handoff string `json:"handoff,omitempty"`
}

// IsFallback reports whether the response had no usable header. Callers
// should treat it as a soft failure of the agent's output format.
func (m Message) IsFallback() bool {
	return m.Agent == UnknownAgent
}

// TasksEqual reports whether two checklists have the same lines in the same
// order with the same statuses.
func TasksEqual(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
