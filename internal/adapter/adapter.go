// Package adapter is the Chat Adapter Contract: the callback surface a
// remote-channel consumer of the Session Manager's event stream must
// implement, plus the shared echo-suppression, chunking, and rate-limit
// machinery every concrete adapter needs.
package adapter

import (
	"log"

	"github.com/agent-command/sessionrelay/internal/manager"
	"github.com/agent-command/sessionrelay/internal/transcript"
)

// Adapter owns one remote channel or chat bound to session activity. Each
// method corresponds to one bullet of the Chat Adapter Contract; outbound
// text is already chunked and rate-limited by the time it arrives here.
type Adapter interface {
	SessionStart(sessionID, name, cwd string) error
	SessionEnd(sessionID string) error
	SessionUpdate(sessionID, name string) error
	AttentionNeeded(sessionID string) error
	PostUser(sessionID, text string) error
	PostAssistant(sessionID, text string, images []string) error
	PostTaskList(sessionID string, todos []TaskItem) error
}

// TaskItem is one task-list entry handed to an adapter: its text plus its
// pending/in_progress/completed status, so a viewer can render progress
// rather than a bare checklist.
type TaskItem struct {
	Content string
	Status  string
}

// InputSink is the adapter's path back into SM for remote-originated
// input.
type InputSink interface {
	SendInput(sessionID, text string) bool
}

// Runner drains a Manager's event stream into an Adapter, applying
// echo-suppression to incoming user messages and handing the adapter
// pre-chunked text.
type Runner struct {
	adapter    Adapter
	sink       InputSink
	ledger     *EchoLedger
	limiter    *RateLimiter
	chunkLimit int
	cwd        map[string]string // sessionID -> cwd, for image-ref resolution
}

func NewRunner(a Adapter, sink InputSink, chunkLimit, ratePerSecond int) *Runner {
	return &Runner{
		adapter:    a,
		sink:       sink,
		ledger:     NewEchoLedger(DefaultLedgerTTL),
		limiter:    NewRateLimiter(ratePerSecond),
		chunkLimit: chunkLimit,
		cwd:        make(map[string]string),
	}
}

// Run drains events until the channel closes. Intended to run in its own
// goroutine for the lifetime of the bound adapter.
func (r *Runner) Run(events <-chan manager.Event) {
	for ev := range events {
		r.handle(ev)
	}
}

func (r *Runner) handle(ev manager.Event) {
	switch ev.Kind {
	case manager.EventSessionStart:
		r.cwd[ev.SessionID] = ev.Cwd
		r.post(func() error { return r.adapter.SessionStart(ev.SessionID, ev.Name, ev.Cwd) })

	case manager.EventSessionUpdate:
		r.post(func() error { return r.adapter.SessionUpdate(ev.SessionID, ev.Name) })

	case manager.EventSessionStatus:
		if ev.Status == transcript.StatusIdle {
			r.post(func() error { return r.adapter.AttentionNeeded(ev.SessionID) })
		}

	case manager.EventSessionEnd:
		delete(r.cwd, ev.SessionID)
		r.post(func() error { return r.adapter.SessionEnd(ev.SessionID) })

	case manager.EventTranscript:
		r.handleTranscript(ev.SessionID, ev.Transcript)
	}
}

func (r *Runner) handleTranscript(sessionID string, t transcript.Event) {
	switch t.Kind {
	case transcript.EventMessage:
		r.handleMessage(sessionID, t)

	case transcript.EventTaskList:
		todos := make([]TaskItem, len(t.Todos))
		for i, item := range t.Todos {
			todos[i] = TaskItem{Content: item.Content, Status: item.Status}
		}
		r.post(func() error { return r.adapter.PostTaskList(sessionID, todos) })

	case transcript.EventSlug:
		r.post(func() error { return r.adapter.SessionUpdate(sessionID, t.Slug) })
	}
}

func (r *Runner) handleMessage(sessionID string, t transcript.Event) {
	if t.Role == "user" {
		if r.ledger.Match(t.Text) {
			return
		}
		for _, chunk := range Chunk(t.Text, r.chunkLimit) {
			r.post(func() error { return r.adapter.PostUser(sessionID, chunk) })
		}
		return
	}

	images := FindImageRefs(t.Text, r.cwd[sessionID])
	chunks := Chunk(t.Text, r.chunkLimit)
	for i, chunk := range chunks {
		var attach []string
		if i == len(chunks)-1 {
			attach = images
		}
		r.post(func() error { return r.adapter.PostAssistant(sessionID, chunk, attach) })
	}
}

// ForwardInput is called by a concrete adapter when it receives inbound
// remote text bound to a session: ledger the text, send it to SM, and
// undo the ledger entry if the send failed (§4.3 final bullet).
func (r *Runner) ForwardInput(sessionID, text string) bool {
	r.ledger.Add(text)
	if r.sink.SendInput(sessionID, text) {
		return true
	}
	r.ledger.Remove(text)
	return false
}

func (r *Runner) post(fn func() error) {
	r.limiter.Wait()
	if err := fn(); err != nil {
		log.Printf("adapter: post failed: %v", err)
	}
}
