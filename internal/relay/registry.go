package relay

import (
	"sync"
)

// connKind distinguishes the two admission paths of §4.2.
type connKind int

const (
	kindWorkstation connKind = iota
	kindViewer
)

// conn is one authenticated connection, either workstation or viewer.
type conn struct {
	id        string
	principal string
	kind      connKind
	send      chan Frame

	mu            sync.Mutex
	subscriptions map[string]struct{} // viewer only: subscribed session ids
}

func newConn(id, principal string, kind connKind) *conn {
	return &conn{
		id:            id,
		principal:     principal,
		kind:          kind,
		send:          make(chan Frame, 256),
		subscriptions: make(map[string]struct{}),
	}
}

func (c *conn) subscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[sessionID] = struct{}{}
}

func (c *conn) unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, sessionID)
}

func (c *conn) isSubscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[sessionID]
	return ok
}

func (c *conn) subscribedSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		out = append(out, id)
	}
	return out
}

// trackedSession is the registry's view of one announced session
// (§3 Session, §4.2 Registry).
type trackedSession struct {
	id      string
	name    string
	cwd     string
	status  string
	owner   *conn // the workstation connection that announced it; an ended session is removed from the registry
	ring    *eventRing
}

// Registry is the Relay Server's process-wide state: connections keyed by
// principal, the session registry, and tracked-for-notification flags.
// §9 Design Notes: explicitly owned state, not an ambient global —
// callers hold a *Registry and pass it through.
type Registry struct {
	mu sync.Mutex

	connsByUser map[string]map[string]*conn // principal -> connID -> conn
	sessions    map[string]*trackedSession  // sessionID -> tracked session
	tracked     map[string]map[string]struct{} // principal -> {sessionID} tracked-for-notification
}

func NewRegistry() *Registry {
	return &Registry{
		connsByUser: make(map[string]map[string]*conn),
		sessions:    make(map[string]*trackedSession),
		tracked:     make(map[string]map[string]struct{}),
	}
}

func (r *Registry) addConn(c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.connsByUser[c.principal]
	if !ok {
		byID = make(map[string]*conn)
		r.connsByUser[c.principal] = byID
	}
	byID[c.id] = c
}

func (r *Registry) removeConn(c *conn) {
	r.mu.Lock()
	byID, ok := r.connsByUser[c.principal]
	if ok {
		delete(byID, c.id)
		if len(byID) == 0 {
			delete(r.connsByUser, c.principal)
		}
	}
	r.mu.Unlock()
}

func (r *Registry) connsForUser(principal string) []*conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID := r.connsByUser[principal]
	out := make([]*conn, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	return out
}

func (r *Registry) connsForKind(kind connKind) []*conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*conn
	for _, byID := range r.connsByUser {
		for _, c := range byID {
			if c.kind == kind {
				out = append(out, c)
			}
		}
	}
	return out
}

func (r *Registry) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) viewersForUser(principal string) []*conn {
	var out []*conn
	for _, c := range r.connsForUser(principal) {
		if c.kind == kindViewer {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) announceSession(owner *conn, sessionID, name, cwd string) *trackedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := &trackedSession{id: sessionID, name: name, cwd: cwd, status: "running", owner: owner, ring: newEventRing(defaultReplayDepth)}
	r.sessions[sessionID] = sess
	return sess
}

func (r *Registry) removeSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func (r *Registry) getSession(sessionID string) (*trackedSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *Registry) sessionsOwnedBy(owner *conn) []*trackedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trackedSession
	for _, s := range r.sessions {
		if s.owner == owner {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) sessionsForUser(principal string) []*trackedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trackedSession
	for _, s := range r.sessions {
		if s.owner != nil && s.owner.principal == principal {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) setTracked(principal, sessionID string, tracked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tracked[principal]
	if !ok {
		set = make(map[string]struct{})
		r.tracked[principal] = set
	}
	if tracked {
		set[sessionID] = struct{}{}
	} else {
		delete(set, sessionID)
	}
}

func (r *Registry) isTracked(principal, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tracked[principal]
	if !ok {
		return false
	}
	_, ok = set[sessionID]
	return ok
}
