package queue

import "testing"

func TestPushAndAckUpto(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, 100)
	if err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 3; i++ {
		if err := q.Push(Message{Seq: i, Type: "session_message", SessionID: "s1"}); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}
	if err := q.AckUpto(2); err != nil {
		t.Fatal(err)
	}
	unacked := q.GetUnacked()
	if len(unacked) != 1 || unacked[0].Seq != 3 {
		t.Fatalf("expected only seq 3 unacked, got %+v", unacked)
	}
}

func TestDropSessionBeforeKeepsTerminalFrame(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, 100)
	if err != nil {
		t.Fatal(err)
	}

	q.Push(Message{Seq: 1, Type: "session_message", SessionID: "s1"})
	q.Push(Message{Seq: 2, Type: "session_todos", SessionID: "s1"})
	q.Push(Message{Seq: 3, Type: "session_message", SessionID: "s2"})
	q.Push(Message{Seq: 4, Type: "session_end", SessionID: "s1"})

	removed, err := q.DropSessionBefore("s1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 stale s1 frames dropped, got %d", removed)
	}

	remaining := q.GetUnacked()
	if len(remaining) != 2 {
		t.Fatalf("expected 2 messages left (s2's and s1's terminal frame), got %+v", remaining)
	}
	for _, msg := range remaining {
		if msg.SessionID == "s1" && msg.Seq != 4 {
			t.Fatalf("expected only the terminal s1 frame to survive, got %+v", msg)
		}
	}
}

func TestDropSessionBeforeIgnoresEmptySessionID(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, 100)
	if err != nil {
		t.Fatal(err)
	}
	q.Push(Message{Seq: 1, Type: "session_message"})

	removed, err := q.DropSessionBefore("", 100)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 || q.Len() != 1 {
		t.Fatalf("expected no-op for empty sessionID, removed=%d len=%d", removed, q.Len())
	}
}
