// Package console is the reference Chat Adapter Contract implementation:
// it prints session activity to stdout and reads bound input from stdin,
// standing in for a real chat-platform adapter (out of scope).
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/agent-command/sessionrelay/internal/adapter"
)

// Adapter is a single-session, single-terminal adapter: every line a user
// types on stdin is forwarded as input to whichever session was most
// recently active, the simplest possible binding since a terminal has no
// concept of multiple channels.
type Adapter struct {
	out io.Writer

	mu      sync.Mutex
	current string
	runner  *adapter.Runner
}

func New(out io.Writer) *Adapter {
	if out == nil {
		out = os.Stdout
	}
	return &Adapter{out: out}
}

// Bind attaches the Runner that owns echo-suppression and dispatch, so
// ReadInputLoop can route stdin lines through ForwardInput.
func (a *Adapter) Bind(r *adapter.Runner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runner = r
}

func (a *Adapter) setCurrent(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = sessionID
}

func (a *Adapter) SessionStart(sessionID, name, cwd string) error {
	a.setCurrent(sessionID)
	_, err := fmt.Fprintf(a.out, "\n=== session %s started (%s) in %s ===\n", sessionID, name, cwd)
	return err
}

func (a *Adapter) SessionEnd(sessionID string) error {
	_, err := fmt.Fprintf(a.out, "=== session %s ended ===\n", sessionID)
	return err
}

func (a *Adapter) SessionUpdate(sessionID, name string) error {
	_, err := fmt.Fprintf(a.out, "[%s] renamed to %q\n", sessionID, name)
	return err
}

func (a *Adapter) AttentionNeeded(sessionID string) error {
	_, err := fmt.Fprintf(a.out, "[%s] *** idle, needs attention ***\n", sessionID)
	return err
}

func (a *Adapter) PostUser(sessionID, text string) error {
	a.setCurrent(sessionID)
	_, err := fmt.Fprintf(a.out, "[%s] you> %s\n", sessionID, text)
	return err
}

func (a *Adapter) PostAssistant(sessionID, text string, images []string) error {
	if _, err := fmt.Fprintf(a.out, "[%s] agent> %s\n", sessionID, text); err != nil {
		return err
	}
	for _, img := range images {
		if _, err := fmt.Fprintf(a.out, "[%s]   (attached image: %s)\n", sessionID, img); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) PostTaskList(sessionID string, todos []adapter.TaskItem) error {
	if _, err := fmt.Fprintf(a.out, "[%s] tasks:\n", sessionID); err != nil {
		return err
	}
	for _, t := range todos {
		status := t.Status
		if status == "" {
			status = "pending"
		}
		if _, err := fmt.Fprintf(a.out, "[%s]   [%s] %s\n", sessionID, status, t.Content); err != nil {
			return err
		}
	}
	return nil
}

// ReadInputLoop reads lines from in and forwards each to the
// most-recently-active session until in reaches EOF.
func (a *Adapter) ReadInputLoop(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		a.mu.Lock()
		sessionID, runner := a.current, a.runner
		a.mu.Unlock()

		if sessionID == "" || runner == nil {
			fmt.Fprintln(a.out, "no active session to receive input")
			continue
		}
		if !runner.ForwardInput(sessionID, line) {
			fmt.Fprintf(a.out, "failed to deliver input to session %s\n", sessionID)
		}
	}
}
