package manager

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agent-command/sessionrelay/internal/transcript"
)

// dirWatcher is one fsnotify watch on a project directory, shared by every
// session rooted there, whether still waiting-for-file or already tailing.
// A filesystem event or the 1-second poll wakes every session in the
// group; each decides for itself what a wake means given its own state.
type dirWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	cancel  chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session
}

func newDirWatcher(dir string) *dirWatcher {
	dw := &dirWatcher{
		dir:      dir,
		cancel:   make(chan struct{}),
		sessions: make(map[string]*Session),
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("manager: fsnotify unavailable for %s, falling back to poll-only: %v", dir, err)
		return dw
	}
	dw.watcher = w
	if err := w.Add(dir); err != nil {
		// Directory may not exist yet; watch its parent so a later mkdir
		// is observable, and re-add dir once it appears.
		if parent := parentDir(dir); parent != "" {
			_ = w.Add(parent)
		}
	}
	return dw
}

func parentDir(dir string) string {
	if dir == "" || dir == "." || dir == "/" {
		return ""
	}
	i := len(dir) - 1
	for i > 0 && dir[i] != '/' {
		i--
	}
	if i == 0 {
		return "/"
	}
	return dir[:i]
}

func (dw *dirWatcher) addSession(s *Session) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.sessions[s.ID] = s
}

func (dw *dirWatcher) removeSession(id string) int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	delete(dw.sessions, id)
	return len(dw.sessions)
}

func (dw *dirWatcher) snapshot() []*Session {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	out := make([]*Session, 0, len(dw.sessions))
	for _, s := range dw.sessions {
		out = append(out, s)
	}
	return out
}

func (dw *dirWatcher) close() {
	close(dw.cancel)
	if dw.watcher != nil {
		_ = dw.watcher.Close()
	}
}

// startWaiting enrolls sess in the shared dirWatcher for its project
// directory, creating one if this is the first session rooted there, and
// takes one immediate wake attempt (the directory may already qualify).
func (m *Manager) startWaiting(sess *Session) {
	m.mu.Lock()
	dw, ok := m.watchers[sess.ProjectDir]
	if !ok {
		dw = newDirWatcher(sess.ProjectDir)
		m.watchers[sess.ProjectDir] = dw
		go m.runDirWatcher(dw)
	}
	m.mu.Unlock()

	dw.addSession(sess)
	m.wake(sess)
}

// stopWatching removes a session from its directory's watch group and
// tears the group down once no session references it (§5 "the only
// cross-session shared mutable state... is guarded by a single mutual
// exclusion region").
func (m *Manager) stopWatching(dir string) {
	m.mu.Lock()
	dw, ok := m.watchers[dir]
	m.mu.Unlock()
	if !ok {
		return
	}

	// The session calling this has already been removed from m.sessions;
	// sweep it out of every group's session set (cheap at this scale).
	remaining := dw.snapshot()
	for _, s := range remaining {
		if s.State() == StateEnded {
			dw.removeSession(s.ID)
		}
	}

	if len(dw.snapshot()) == 0 {
		m.mu.Lock()
		delete(m.watchers, dir)
		m.mu.Unlock()
		dw.close()
	}
}

func (m *Manager) runDirWatcher(dw *dirWatcher) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if dw.watcher != nil {
		events = dw.watcher.Events
		errs = dw.watcher.Errors
	}

	for {
		select {
		case <-dw.cancel:
			return
		case <-ticker.C:
			m.wakeAll(dw)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&fsnotify.Create != 0 && ev.Name == dw.dir {
				_ = dw.watcher.Add(dw.dir)
			}
			m.wakeAll(dw)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("manager: fsnotify error on %s: %v", dw.dir, err)
		}
	}
}

func (m *Manager) wakeAll(dw *dirWatcher) {
	for _, s := range dw.snapshot() {
		m.wake(s)
	}
}

// wake re-attempts discovery for a waiting session, or re-reads the
// claimed file for a tailing one. Called from a filesystem notification or
// the 1-second poll (§4.1 Transcript discovery / Tailing and parsing).
func (m *Manager) wake(sess *Session) {
	switch sess.State() {
	case StateWaitingForFile:
		m.attemptClaim(sess)
	case StateTailing:
		m.tailOnce(sess)
	}
}

func (m *Manager) attemptClaim(sess *Session) {
	snap := sess.snapshotAll()
	result, ok := discover(sess.ProjectDir, snap, m.claimed)
	if !ok {
		return
	}
	if !m.claimed.tryClaim(result.path, sess.ID) {
		return
	}
	sess.claim(result.path)
	m.tailOnce(sess)
}

// tailOnce re-reads the claimed file in full, feeds any new bytes' worth of
// records to the session's parser, and translates the resulting
// transcript.Events into manager Events.
func (m *Manager) tailOnce(sess *Session) {
	path := sess.ClaimedFile()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("manager: read %s: %v", path, err)
		return
	}

	events := sess.parser.Feed(data, sess.StartedAt.UnixNano())
	if len(events) > 0 {
		sess.touch()
	}
	for _, ev := range events {
		m.dispatchTranscriptEvent(sess, ev)
	}

	if sess.idleIfStale(idleGracePeriod) {
		m.emit(Event{Kind: EventSessionStatus, SessionID: sess.ID, Status: transcript.StatusIdle})
	}
}

// dispatchTranscriptEvent forwards a transcript.Event as-is, plus the
// session-level side effects the spec calls out: a slug renames the
// session and announces session-update; any activity clears idle status.
func (m *Manager) dispatchTranscriptEvent(sess *Session, ev transcript.Event) {
	if ev.Kind == transcript.EventSlug {
		sess.setName(ev.Slug)
		m.emit(Event{Kind: EventSessionUpdate, SessionID: sess.ID, Name: ev.Slug})
	}

	if sess.setStatus(transcript.StatusRunning) {
		m.emit(Event{Kind: EventSessionStatus, SessionID: sess.ID, Status: transcript.StatusRunning})
	}

	m.emit(Event{Kind: EventTranscript, SessionID: sess.ID, Transcript: ev})
}
