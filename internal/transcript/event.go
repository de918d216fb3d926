package transcript

import "time"

// EventKind discriminates the Event union the parser emits, per spec §3.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventSlug       EventKind = "slug"
	EventTaskList   EventKind = "task_list"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventModeChange EventKind = "mode_change"
	EventStatus     EventKind = "status"
)

// Mode is the plan/execute mode-change payload.
type Mode string

const (
	ModePlanning  Mode = "planning"
	ModeExecuting Mode = "executing"
)

// Status is the session status edge-triggered by the tailer.
type Status string

const (
	StatusRunning Status = "running"
	StatusIdle    Status = "idle"
	StatusEnded   Status = "ended"
)

// Event is the normalized output of the transcript tailer. Exactly one of
// the payload fields is meaningful, selected by Kind.
type Event struct {
	Kind      EventKind
	SessionID string

	// EventMessage
	Role      string
	Text      string
	Timestamp time.Time

	// EventSlug
	Slug string

	// EventTaskList
	Todos []TodoItem

	// EventToolCall
	ToolCallID string
	ToolName   string
	ToolInput  []byte

	// EventToolResult
	ToolResultCallID string
	ToolResultText   string
	ToolResultIsErr  bool

	// EventModeChange
	Mode Mode

	// EventStatus
	Status Status
}
