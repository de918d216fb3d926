package manager

import (
	"log"
	"sync"
	"time"
)

const (
	pollInterval    = 1 * time.Second
	inputCRDelay    = 50 * time.Millisecond
	idleGracePeriod = 5 * time.Minute
)

// Manager is the Session Manager (§4.1): registers sessions, discovers and
// tails their transcript files, and emits a normalized event stream.
type Manager struct {
	claimed *claimedFiles

	mu       sync.Mutex
	sessions map[string]*Session
	watchers map[string]*dirWatcher // projectDir -> shared fsnotify watcher

	events chan Event
}

// New creates a Manager. The returned Events channel delivers every Event
// the manager's tailers produce, in per-session transcript order; callers
// MUST drain it promptly (§5 "a slow consumer... must not block the
// tailer" is enforced by the tailer never blocking on send — see emit).
func New() *Manager {
	return &Manager{
		claimed:  newClaimedFiles(),
		sessions: make(map[string]*Session),
		watchers: make(map[string]*dirWatcher),
		events:   make(chan Event, 1024),
	}
}

// Events returns the manager's event stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// emit is best-effort: a full channel drops the event rather than blocking
// the tailer (§4.1 Failure semantics, §5 Back-pressure).
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Printf("manager: event channel full, dropping %s for session %s", ev.Kind, ev.SessionID)
	}
}

// Register implements `register(session-announce)` (§4.1).
func (m *Manager) Register(id, name, cwd, projectDir string, command []string, conn RunnerConn) (*Session, error) {
	snapshot, err := listTranscripts(projectDir)
	if err != nil {
		log.Printf("manager: snapshot %s: %v", projectDir, err)
		snapshot = map[string]time.Time{}
	}

	sess := newSession(id, name, cwd, projectDir, command, conn)
	sess.setSnapshot(snapshot)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.emit(Event{Kind: EventSessionStart, SessionID: id, Name: name, Cwd: cwd})

	m.startWaiting(sess)
	return sess, nil
}

// Get implements the read-only `get(id)` query.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List implements the read-only `list()` query.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SendInput implements `send-input(id, text)` (§4.1, §5 ordering guarantee:
// text then "\r" with an observable 50ms gap).
func (m *Manager) SendInput(id, text string) bool {
	sess, ok := m.Get(id)
	if !ok {
		return false
	}

	sess.mu.Lock()
	conn := sess.conn
	sess.mu.Unlock()

	if conn == nil {
		m.End(id)
		return false
	}

	if err := conn.WriteInput(text); err != nil {
		log.Printf("manager: send-input %s: write failed: %v", id, err)
		m.End(id)
		return false
	}

	time.Sleep(inputCRDelay)

	if err := conn.WriteInput("\r"); err != nil {
		log.Printf("manager: send-input %s: carriage-return write failed: %v", id, err)
		m.End(id)
		return false
	}

	return true
}

// End implements `end(id)`: stop watcher, release claim, drop state, emit
// session-end. Safe to call more than once.
func (m *Manager) End(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if sess.State() == StateEnded {
		return
	}

	if path := sess.ClaimedFile(); path != "" {
		m.claimed.release(path)
	}
	sess.end()
	m.stopWatching(sess.ProjectDir)

	if sess.conn != nil {
		_ = sess.conn.Close()
	}

	m.emit(Event{Kind: EventSessionEnd, SessionID: id})
}

// EndAllForConn ends every session owned by a closed runner connection
// (§3 Lifecycles: "Workstation↔relay link... on disconnect, all sessions it
// owned become ended").
func (m *Manager) EndAllForConn(conn RunnerConn) {
	m.mu.Lock()
	var ids []string
	for id, s := range m.sessions {
		s.mu.Lock()
		same := s.conn == conn
		s.mu.Unlock()
		if same {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.End(id)
	}
}
