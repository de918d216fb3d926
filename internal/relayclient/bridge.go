package relayclient

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/agent-command/sessionrelay/internal/manager"
	"github.com/agent-command/sessionrelay/internal/transcript"
)

const (
	typeSessionStart  = "session_start"
	typeSessionUpdate = "session_update"
	typeSessionTodos  = "session_todos"
	typeSessionMsg    = "session_message"
	typeSessionStatus = "session_status"
	typeSessionEnd    = "session_end"
	typeSendInput     = "send_input"
)

// Bridge wires a Manager's event stream onto a relay Client: outbound
// session lifecycle and transcript events become relay frames, and
// inbound send_input frames are routed back into the manager.
type Bridge struct {
	client  *Client
	manager *manager.Manager

	mu   sync.Mutex
	seen map[string]struct{} // session ids already announced, for reconnect replay
}

func NewBridge(client *Client, mgr *manager.Manager) *Bridge {
	b := &Bridge{client: client, manager: mgr, seen: make(map[string]struct{})}
	client.SetFrameHandler(b.handleInbound)
	client.SetOnConnect(b.onConnect)
	return b
}

// Run drains the manager's event stream onto the relay client until the
// channel closes. Intended to run in its own goroutine for the lifetime
// of the workstation daemon.
// Run drains events and forwards each as a relay frame. Callers that also
// run a bundled chat adapter off the same manager must fan the event
// stream out to both consumers themselves; Bridge only ever reads from
// the channel it is given.
func (b *Bridge) Run(events <-chan manager.Event) {
	for ev := range events {
		b.forward(ev)
	}
}

func (b *Bridge) forward(ev manager.Event) {
	switch ev.Kind {
	case manager.EventSessionStart:
		b.mark(ev.SessionID)
		b.send(typeSessionStart, ev.SessionID, map[string]string{"sessionId": ev.SessionID, "name": ev.Name, "cwd": ev.Cwd})

	case manager.EventSessionUpdate:
		b.send(typeSessionUpdate, ev.SessionID, map[string]string{"sessionId": ev.SessionID, "name": ev.Name})

	case manager.EventSessionStatus:
		b.send(typeSessionStatus, ev.SessionID, map[string]string{"sessionId": ev.SessionID, "status": string(ev.Status)})

	case manager.EventSessionEnd:
		b.unmark(ev.SessionID)
		seq := b.send(typeSessionEnd, ev.SessionID, map[string]string{"sessionId": ev.SessionID})
		b.client.DropSessionQueue(ev.SessionID, seq)

	case manager.EventTranscript:
		b.forwardTranscript(ev.SessionID, ev.Transcript)
	}
}

func (b *Bridge) forwardTranscript(sessionID string, t transcript.Event) {
	switch t.Kind {
	case transcript.EventMessage:
		b.send(typeSessionMsg, sessionID, map[string]string{"sessionId": sessionID, "role": t.Role, "content": t.Text})

	case transcript.EventTaskList:
		todos := make([]sessionTodo, len(t.Todos))
		for i, item := range t.Todos {
			todos[i] = sessionTodo{Content: item.Content, Status: item.Status}
		}
		b.send(typeSessionTodos, sessionID, map[string]any{"sessionId": sessionID, "todos": todos})

	case transcript.EventSlug:
		b.send(typeSessionUpdate, sessionID, map[string]string{"sessionId": sessionID, "name": t.Slug})

	case transcript.EventStatus:
		b.send(typeSessionStatus, sessionID, map[string]string{"sessionId": sessionID, "status": string(t.Status)})

	// Tool calls, tool results, and mode changes have no relay-protocol
	// counterpart (§4.2's protocol table carries conversational text and
	// status only); they stay local to the workstation side.
	default:
	}
}

// sessionTodo is the wire shape of one task-list entry forwarded to the
// relay, carrying both the text and its pending/in_progress/completed
// status through to anything consuming session_todos downstream.
type sessionTodo struct {
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}

func (b *Bridge) send(msgType, sessionID string, payload any) int64 {
	seq, err := b.client.Send(msgType, sessionID, payload)
	if err != nil {
		log.Printf("relayclient: send %s: %v", msgType, err)
	}
	return seq
}

func (b *Bridge) mark(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen[id] = struct{}{}
}

func (b *Bridge) unmark(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seen, id)
}

// onConnect re-announces every live session so the relay's registry (and
// any already-subscribed viewer) recovers state across a reconnect, then
// flushes anything queued while disconnected.
func (b *Bridge) onConnect() {
	for _, sess := range b.manager.List() {
		b.send(typeSessionStart, sess.ID, map[string]string{"sessionId": sess.ID, "name": sess.Name, "cwd": sess.Cwd})
	}
	b.client.ResendQueued()
}

// handleInbound routes relay-originated frames back into the manager.
// send_input is the only V→S frame the relay forwards on to a
// workstation (§4.2 fan-out rule three).
func (b *Bridge) handleInbound(msgType string, payload json.RawMessage) {
	if msgType != typeSendInput {
		return
	}
	var p struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("relayclient: malformed send_input payload: %v", err)
		return
	}
	if !b.manager.SendInput(p.SessionID, p.Text) {
		log.Printf("relayclient: send-input to unknown or dead session %s", p.SessionID)
	}
}
