// Package push defines the interface the relay calls into for idle/ended
// notifications. The real push gateway is an external collaborator
// (§1 Out of scope); only a logging no-op implementation lives here.
package push

import "log"

// Kind discriminates the two notification shapes §4.2 describes.
type Kind string

const (
	KindIdle  Kind = "idle"
	KindEnded Kind = "ended"
)

// Dispatcher sends a fire-and-forget push to a principal's registered
// tokens. Delivery failures are logged, never propagated (§4.2 Push
// semantics, §7 "adapter-post-failure"-style isolation).
type Dispatcher interface {
	Dispatch(principal, sessionID string, kind Kind)
}

// LoggingDispatcher just logs the intent to push; stands in for the real
// gateway until one is wired.
type LoggingDispatcher struct{}

func (LoggingDispatcher) Dispatch(principal, sessionID string, kind Kind) {
	log.Printf("push: would dispatch %s push to %s for session %s", kind, principal, sessionID)
}
