package relay

import (
	"testing"
	"time"

	"github.com/agent-command/sessionrelay/internal/auth"
	"github.com/agent-command/sessionrelay/internal/push"
)

type recordingDispatcher struct {
	calls []string
}

func (d *recordingDispatcher) Dispatch(principal, sessionID string, kind push.Kind) {
	d.calls = append(d.calls, principal+":"+sessionID+":"+string(kind))
}

func newTestServer() (*Server, *recordingDispatcher) {
	d := &recordingDispatcher{}
	s := NewServer(auth.NewStaticVerifier(nil), nil, d)
	return s, d
}

func recv(t *testing.T, c *conn) Frame {
	t.Helper()
	select {
	case f := <-c.send:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestSessionStartBroadcastsSessionsList(t *testing.T) {
	s, _ := newTestServer()
	ws := newConn("ws1", "alice", kindWorkstation)
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(ws)
	s.Registry.addConn(viewer)

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStart, sessionStartPayload{SessionID: "s1", Name: "build", Cwd: "/tmp"}))

	f := recv(t, viewer)
	if f.Type != TypeSessionsList {
		t.Fatalf("expected sessions_list, got %s", f.Type)
	}
}

func TestSubscribeReplaysRecentMessagesAndStatus(t *testing.T) {
	s, _ := newTestServer()
	ws := newConn("ws1", "alice", kindWorkstation)
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(ws)
	s.Registry.addConn(viewer)

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStart, sessionStartPayload{SessionID: "s1", Name: "build", Cwd: "/tmp"}))
	recv(t, viewer) // sessions_list from session_start

	s.dispatchWorkstation(ws, mustFrame(TypeSessionMsg, sessionMessagePayload{SessionID: "s1", Role: "assistant", Content: "hi"}))

	s.dispatchViewer(viewer, mustFrame(TypeSubscribe, subscribePayload{SessionID: "s1"}))

	status := recv(t, viewer)
	if status.Type != TypeSessionStatus {
		t.Fatalf("expected session_status first, got %s", status.Type)
	}
	msg := recv(t, viewer)
	if msg.Type != TypeSessionMsg {
		t.Fatalf("expected session_message replay, got %s", msg.Type)
	}
}

func TestSendInputRoutesToOwner(t *testing.T) {
	s, _ := newTestServer()
	ws := newConn("ws1", "alice", kindWorkstation)
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(ws)
	s.Registry.addConn(viewer)

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStart, sessionStartPayload{SessionID: "s1"}))
	recv(t, viewer)

	s.dispatchViewer(viewer, mustFrame(TypeSendInput, sendInputPayload{SessionID: "s1", Text: "go\n"}))

	f := recv(t, ws)
	if f.Type != TypeSendInput {
		t.Fatalf("expected send_input forwarded to owner, got %s", f.Type)
	}
}

func TestSendInputUnknownSessionReturnsError(t *testing.T) {
	s, _ := newTestServer()
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(viewer)

	s.dispatchViewer(viewer, mustFrame(TypeSendInput, sendInputPayload{SessionID: "missing"}))

	f := recv(t, viewer)
	if f.Type != TypeError {
		t.Fatalf("expected error frame, got %s", f.Type)
	}
}

func TestSessionEndNotifiesSubscribersAndDropsSession(t *testing.T) {
	s, _ := newTestServer()
	ws := newConn("ws1", "alice", kindWorkstation)
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(ws)
	s.Registry.addConn(viewer)

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStart, sessionStartPayload{SessionID: "s1"}))
	recv(t, viewer)
	s.dispatchViewer(viewer, mustFrame(TypeSubscribe, subscribePayload{SessionID: "s1"}))
	recv(t, viewer) // status

	s.dispatchWorkstation(ws, mustFrame(TypeSessionEnd, sessionEndPayload{SessionID: "s1"}))

	ended := recv(t, viewer)
	if ended.Type != TypeSessionStatus {
		t.Fatalf("expected session_status(ended), got %s", ended.Type)
	}
	recv(t, viewer) // sessions_list re-broadcast

	if _, ok := s.Registry.getSession("s1"); ok {
		t.Fatal("expected session removed from registry after end")
	}
}

func TestTrackedSessionIdleDispatchesPush(t *testing.T) {
	s, d := newTestServer()
	ws := newConn("ws1", "alice", kindWorkstation)
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(ws)
	s.Registry.addConn(viewer)

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStart, sessionStartPayload{SessionID: "s1"}))
	recv(t, viewer)
	s.dispatchViewer(viewer, mustFrame(TypeTrackSession, trackSessionPayload{SessionID: "s1"}))
	s.dispatchViewer(viewer, mustFrame(TypeSubscribe, subscribePayload{SessionID: "s1"}))
	recv(t, viewer) // status replayed on subscribe

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStatus, sessionStatusPayload{SessionID: "s1", Status: "idle"}))
	recv(t, viewer) // forwarded session_status

	if len(d.calls) != 1 || d.calls[0] != "alice:s1:idle" {
		t.Fatalf("expected one idle push dispatched, got %v", d.calls)
	}
}

func TestWorkstationDisconnectEndsOwnedSessions(t *testing.T) {
	s, _ := newTestServer()
	ws := newConn("ws1", "alice", kindWorkstation)
	viewer := newConn("v1", "alice", kindViewer)
	s.Registry.addConn(ws)
	s.Registry.addConn(viewer)

	s.dispatchWorkstation(ws, mustFrame(TypeSessionStart, sessionStartPayload{SessionID: "s1"}))
	recv(t, viewer)

	s.endOwnedSessions(ws)

	if _, ok := s.Registry.getSession("s1"); ok {
		t.Fatal("expected session removed after owner disconnect")
	}
}
