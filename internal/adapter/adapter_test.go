package adapter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agent-command/sessionrelay/internal/manager"
	"github.com/agent-command/sessionrelay/internal/transcript"
)

type fakeAdapter struct {
	mu       sync.Mutex
	calls    []string
	lastDone []TaskItem
	fail     bool
}

func (f *fakeAdapter) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	if f.fail {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeAdapter) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAdapter) SessionStart(id, name, cwd string) error  { return f.record("start:" + id) }
func (f *fakeAdapter) SessionEnd(id string) error                { return f.record("end:" + id) }
func (f *fakeAdapter) SessionUpdate(id, name string) error       { return f.record("update:" + id + ":" + name) }
func (f *fakeAdapter) AttentionNeeded(id string) error           { return f.record("attention:" + id) }
func (f *fakeAdapter) PostUser(id, text string) error            { return f.record("user:" + id + ":" + text) }
func (f *fakeAdapter) PostTaskList(id string, todos []TaskItem) error {
	f.mu.Lock()
	f.lastDone = todos
	f.mu.Unlock()
	return f.record("tasks:" + id)
}
func (f *fakeAdapter) PostAssistant(id, text string, images []string) error {
	return f.record("assistant:" + id + ":" + text)
}

type fakeSink struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (s *fakeSink) SendInput(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false
	}
	s.sent = append(s.sent, id+":"+text)
	return true
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestRunnerDispatchesSessionLifecycle(t *testing.T) {
	fa := &fakeAdapter{}
	r := NewRunner(fa, &fakeSink{}, 4000, 1000)

	events := make(chan manager.Event, 4)
	events <- manager.Event{Kind: manager.EventSessionStart, SessionID: "s1", Name: "build", Cwd: "/tmp"}
	events <- manager.Event{Kind: manager.EventSessionUpdate, SessionID: "s1", Name: "refactor"}
	events <- manager.Event{Kind: manager.EventSessionEnd, SessionID: "s1"}
	close(events)

	r.Run(events)

	calls := fa.snapshot()
	want := []string{"start:s1", "update:s1:refactor", "end:s1"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i, w := range want {
		if calls[i] != w {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestRunnerIdleStatusTriggersAttention(t *testing.T) {
	fa := &fakeAdapter{}
	r := NewRunner(fa, &fakeSink{}, 4000, 1000)

	events := make(chan manager.Event, 1)
	events <- manager.Event{Kind: manager.EventSessionStatus, SessionID: "s1", Status: transcript.StatusIdle}
	close(events)
	r.Run(events)

	calls := fa.snapshot()
	if len(calls) != 1 || calls[0] != "attention:s1" {
		t.Fatalf("expected attention call, got %v", calls)
	}
}

func TestRunnerPostsTaskListWithStatus(t *testing.T) {
	fa := &fakeAdapter{}
	r := NewRunner(fa, &fakeSink{}, 4000, 1000)

	events := make(chan manager.Event, 1)
	events <- manager.Event{
		Kind:      manager.EventTranscript,
		SessionID: "s1",
		Transcript: transcript.Event{
			Kind: transcript.EventTaskList,
			Todos: []transcript.TodoItem{
				{Content: "write tests", Status: "in_progress"},
				{Content: "ship", Status: "pending"},
			},
		},
	}
	close(events)
	r.Run(events)

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if len(fa.lastDone) != 2 {
		t.Fatalf("expected 2 todos, got %+v", fa.lastDone)
	}
	if fa.lastDone[0].Status != "in_progress" || fa.lastDone[1].Status != "pending" {
		t.Fatalf("expected statuses preserved, got %+v", fa.lastDone)
	}
}

func TestRunnerSuppressesEchoedUserMessage(t *testing.T) {
	fa := &fakeAdapter{}
	sink := &fakeSink{}
	r := NewRunner(fa, sink, 4000, 1000)

	if !r.ForwardInput("s1", "run tests") {
		t.Fatal("expected forward to succeed")
	}

	events := make(chan manager.Event, 1)
	events <- manager.Event{Kind: manager.EventTranscript, SessionID: "s1", Transcript: transcript.Event{
		Kind: transcript.EventMessage, Role: "user", Text: "run tests",
	}}
	close(events)
	r.Run(events)

	if calls := fa.snapshot(); len(calls) != 0 {
		t.Fatalf("expected echoed message suppressed, got %v", calls)
	}
}

func TestRunnerPostsUnmatchedUserMessage(t *testing.T) {
	fa := &fakeAdapter{}
	r := NewRunner(fa, &fakeSink{}, 4000, 1000)

	events := make(chan manager.Event, 1)
	events <- manager.Event{Kind: manager.EventTranscript, SessionID: "s1", Transcript: transcript.Event{
		Kind: transcript.EventMessage, Role: "user", Text: "hello from the transcript",
	}}
	close(events)
	r.Run(events)

	calls := fa.snapshot()
	if len(calls) != 1 || calls[0] != "user:s1:hello from the transcript" {
		t.Fatalf("expected unmatched user message posted, got %v", calls)
	}
}

func TestForwardInputRemovesLedgerEntryOnSendFailure(t *testing.T) {
	fa := &fakeAdapter{}
	sink := &fakeSink{fail: true}
	r := NewRunner(fa, sink, 4000, 1000)

	if r.ForwardInput("s1", "do it") {
		t.Fatal("expected forward to fail")
	}
	if r.ledger.Len() != 0 {
		t.Fatal("expected ledger entry removed after failed send")
	}
}
