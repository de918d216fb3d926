package relay

import (
	"encoding/json"
	"log"

	"github.com/agent-command/sessionrelay/internal/push"
)

// dispatchWorkstation handles the W→S half of §4.2's protocol table:
// session lifecycle and output events announced by one workstation link.
func (s *Server) dispatchWorkstation(c *conn, f Frame) {
	if f.Seq != 0 {
		defer send(c, TypeAck, ackPayload{Seq: f.Seq})
	}

	switch f.Type {
	case TypeSessionStart:
		var p sessionStartPayload
		if !decode(f, &p) {
			return
		}
		s.Registry.announceSession(c, p.SessionID, p.Name, p.Cwd)
		if s.Metrics != nil {
			s.Metrics.Sessions.Inc()
		}
		s.broadcastSessionsList(c.principal)

	case TypeSessionUpdate:
		var p sessionUpdatePayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner != c {
			return
		}
		sess.name = p.Name
		s.forwardToSubscribers(sess, f)
		s.broadcastSessionsList(c.principal)

	case TypeSessionTodos:
		var p sessionTodosPayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner != c {
			return
		}
		sess.ring.setTodos(p)
		s.forwardToSubscribers(sess, f)

	case TypeSessionMsg:
		var p sessionMessagePayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner != c {
			return
		}
		sess.ring.pushMessage(p)
		s.forwardToSubscribers(sess, f)

	case TypeSessionStatus:
		var p sessionStatusPayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner != c {
			return
		}
		prev := sess.status
		sess.status = p.Status
		s.forwardToSubscribers(sess, f)
		if prev != p.Status && p.Status == "idle" {
			s.dispatchPush(c.principal, p.SessionID, push.KindIdle)
		}

	case TypeSessionEnd:
		var p sessionEndPayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner != c {
			return
		}
		s.endSession(sess)

	default:
		log.Printf("relay: workstation conn %s sent unknown frame type %q", c.id, f.Type)
	}
}

// dispatchViewer handles the V→S half: session listing, subscription,
// remote input, tracking, and push-token registration.
func (s *Server) dispatchViewer(c *conn, f Frame) {
	switch f.Type {
	case TypeListSessions:
		s.sendSessionsList(c)

	case TypeSubscribe:
		var p subscribePayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner == nil || sess.owner.principal != c.principal {
			send(c, TypeError, errorPayload{Message: "unknown or inaccessible session"})
			return
		}
		c.subscribe(p.SessionID)
		send(c, TypeSessionStatus, sessionStatusPayload{SessionID: sess.id, Status: sess.status})
		for _, m := range sess.ring.recent() {
			send(c, TypeSessionMsg, m)
		}
		if todos, ok := sess.ring.todos(); ok {
			send(c, TypeSessionTodos, todos)
		}

	case TypeUnsubscribe:
		var p subscribePayload
		if !decode(f, &p) {
			return
		}
		c.unsubscribe(p.SessionID)

	case TypeSendInput:
		var p sendInputPayload
		if !decode(f, &p) {
			return
		}
		sess, ok := s.Registry.getSession(p.SessionID)
		if !ok || sess.owner == nil || sess.owner.principal != c.principal {
			send(c, TypeError, errorPayload{Message: "unknown or inaccessible session"})
			return
		}
		send(sess.owner, TypeSendInput, p)

	case TypeTrackSession:
		var p trackSessionPayload
		if !decode(f, &p) {
			return
		}
		s.Registry.setTracked(c.principal, p.SessionID, true)

	case TypeUntrackSession:
		var p trackSessionPayload
		if !decode(f, &p) {
			return
		}
		s.Registry.setTracked(c.principal, p.SessionID, false)

	case TypeRegisterPushToken:
		var p registerPushTokenPayload
		if !decode(f, &p) {
			return
		}
		s.pushTokens.add(c.principal, p.PushToken)

	default:
		log.Printf("relay: viewer conn %s sent unknown frame type %q", c.id, f.Type)
	}
}

// forwardToSubscribers delivers an output frame only to same-user viewers
// subscribed to this session (§4.2 fan-out rule two).
func (s *Server) forwardToSubscribers(sess *trackedSession, f Frame) {
	if sess.owner == nil {
		return
	}
	for _, v := range s.Registry.viewersForUser(sess.owner.principal) {
		if v.isSubscribed(sess.id) {
			select {
			case v.send <- f:
			default:
				log.Printf("relay: viewer conn %s send buffer full, dropping %s", v.id, f.Type)
			}
		}
	}
}

// broadcastSessionsList sends the authoritative session list to every
// viewer of principal (§4.2 fan-out rule one: triggered by session-start).
func (s *Server) broadcastSessionsList(principal string) {
	for _, v := range s.Registry.viewersForUser(principal) {
		s.sendSessionsList(v)
	}
}

func (s *Server) sendSessionsList(c *conn) {
	sessions := s.Registry.sessionsForUser(c.principal)
	summaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sessionSummary{SessionID: sess.id, Name: sess.name, Status: sess.status})
	}
	send(c, TypeSessionsList, sessionsListPayload{Sessions: summaries})
}

// endSession marks a session ended, notifies its subscribers, dispatches a
// push if tracked, and drops it from the registry.
func (s *Server) endSession(sess *trackedSession) {
	owner := sess.owner
	sess.status = "ended"
	s.forwardToSubscribers(sess, mustFrame(TypeSessionStatus, sessionStatusPayload{SessionID: sess.id, Status: "ended"}))
	if owner != nil {
		s.dispatchPush(owner.principal, sess.id, push.KindEnded)
		s.broadcastSessionsList(owner.principal)
	}
	s.Registry.removeSession(sess.id)
	if s.Metrics != nil {
		s.Metrics.Sessions.Dec()
	}
}

// endOwnedSessions runs when a workstation connection drops: every session
// it owns ends, exactly as if it had sent session_end for each.
func (s *Server) endOwnedSessions(c *conn) {
	for _, sess := range s.Registry.sessionsOwnedBy(c) {
		s.endSession(sess)
	}
}

func (s *Server) dispatchPush(principal, sessionID string, kind push.Kind) {
	if s.Push == nil || !s.Registry.isTracked(principal, sessionID) {
		return
	}
	s.Push.Dispatch(principal, sessionID, kind)
	if s.Metrics != nil {
		s.Metrics.PushesDispatched.WithLabelValues(string(kind), "dispatched").Inc()
	}
}

func decode(f Frame, v any) bool {
	if len(f.Payload) == 0 {
		return false
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		log.Printf("relay: malformed %s payload: %v", f.Type, err)
		return false
	}
	return true
}

func mustFrame(msgType string, payload any) Frame {
	f, err := frame(msgType, payload)
	if err != nil {
		return Frame{Type: msgType}
	}
	return f
}
