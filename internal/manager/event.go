package manager

import "github.com/agent-command/sessionrelay/internal/transcript"

// EventKind discriminates the Manager's output event envelope. Transcript
// events (message, slug, task-list, ...) arrive wrapped as EventTranscript;
// the remaining kinds are session-lifecycle events the manager itself
// derives (§3 Event, §4.1 register/end, end-to-end scenario 1's
// slug→session-update).
type EventKind string

const (
	EventSessionStart  EventKind = "session-start"
	EventSessionEnd    EventKind = "session-end"
	EventSessionUpdate EventKind = "session-update"
	EventSessionStatus EventKind = "session-status"
	EventTranscript    EventKind = "transcript"
)

// Event is the normalized output of the Manager, delivered on Events() in
// per-session transcript order.
type Event struct {
	Kind      EventKind
	SessionID string

	// EventSessionStart / EventSessionUpdate
	Name string
	Cwd  string

	// EventSessionStatus
	Status transcript.Status

	// EventTranscript
	Transcript transcript.Event
}
