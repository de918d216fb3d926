// Package manager implements the session manager: discovery and tailing of
// transcript files for live sessions, and the input sink back to the
// session runner.
package manager

import (
	"errors"
	"sync"
	"time"

	"github.com/agent-command/sessionrelay/internal/transcript"
)

// State is a session's position in the waiting-for-file → tailing → ended
// state machine.
type State string

const (
	StateWaitingForFile State = "waiting-for-file"
	StateTailing        State = "tailing"
	StateEnded          State = "ended"
)

var (
	ErrSessionNotFound = errors.New("manager: session not found")
	ErrSessionGone     = errors.New("manager: session connection gone")
)

// RunnerConn is the SM's view of the local connection back to a session
// runner: write framed input, and learn when the connection dies.
type RunnerConn interface {
	WriteInput(text string) error
	Close() error
}

// Session is one registered PTY session and the state SM tracks for it.
type Session struct {
	ID          string
	Name        string
	Cwd         string
	ProjectDir  string
	Command     []string
	StartedAt   time.Time

	mu           sync.Mutex
	state        State
	status       transcript.Status
	claimedFile  string
	snapshot     map[string]time.Time
	parser       *transcript.Parser
	conn         RunnerConn
	lastActivity time.Time
}

func newSession(id, name, cwd, projectDir string, command []string, conn RunnerConn) *Session {
	return &Session{
		ID:         id,
		Name:       name,
		Cwd:        cwd,
		ProjectDir: projectDir,
		Command:    command,
		StartedAt:  time.Now(),
		state:        StateWaitingForFile,
		status:       transcript.StatusRunning,
		parser:       transcript.NewParser(id),
		conn:         conn,
		lastActivity: time.Now(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() transcript.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) ClaimedFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimedFile
}

// setSnapshot records the pre-existing transcript files and their mtimes at
// register time, used by the discovery algorithm to distinguish
// resumed-session files from newly created ones.
func (s *Session) setSnapshot(snap map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

func (s *Session) snapshotMtime(path string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.snapshot[path]
	return t, ok
}

func (s *Session) claim(path string) {
	s.mu.Lock()
	s.claimedFile = path
	s.state = StateTailing
	s.mu.Unlock()
}

func (s *Session) setStatus(status transcript.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == status {
		return false
	}
	// Status transitions are monotone toward ended once reached.
	if s.status == transcript.StatusEnded {
		return false
	}
	s.status = status
	return true
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateEnded
	s.status = transcript.StatusEnded
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Name = name
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// idleIfStale transitions running -> idle if no activity has been observed
// for at least d, reporting whether it made that transition.
func (s *Session) idleIfStale(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != transcript.StatusRunning {
		return false
	}
	if time.Since(s.lastActivity) < d {
		return false
	}
	s.status = transcript.StatusIdle
	return true
}

// snapshotAll returns a copy of the pre-existing-files snapshot taken at
// register time.
func (s *Session) snapshotAll() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}
