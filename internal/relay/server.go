package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agent-command/sessionrelay/internal/auth"
	"github.com/agent-command/sessionrelay/internal/metrics"
	"github.com/agent-command/sessionrelay/internal/push"
)

// writeTimeout bounds a single frame write; authTimeout bounds the wait for
// the first (auth) frame on a freshly accepted connection.
const (
	writeTimeout = 10 * time.Second
	authTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the Relay Server's connection and HTTP surface.
type Server struct {
	Registry *Registry
	Verifier auth.Verifier
	Pairing  *auth.PairingStore
	Metrics  *metrics.Metrics
	Push     push.Dispatcher

	pushTokens *tokenStore
}

func NewServer(verifier auth.Verifier, m *metrics.Metrics, pusher push.Dispatcher) *Server {
	return &Server{
		Registry:   NewRegistry(),
		Verifier:   verifier,
		Pairing:    auth.NewPairingStore(),
		Metrics:    m,
		Push:       pusher,
		pushTokens: newTokenStore(),
	}
}

// HandleWorkstation upgrades and services a workstation-side connection
// (session-mediation-layer process, per §4.2 admission path one).
func (s *Server) HandleWorkstation(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, kindWorkstation)
}

// HandleViewer upgrades and services a viewer-side connection (§4.2
// admission path two).
func (s *Server) HandleViewer(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, kindViewer)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, kind connKind) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}

	principal, ok := s.authenticate(ws)
	if !ok {
		ws.Close()
		return
	}

	c := newConn(uuid.NewString(), principal, kind)
	s.Registry.addConn(c)
	s.trackConnMetric(kind, 1)
	log.Printf("relay: %s connected principal=%s conn=%s", kindLabel(kind), principal, c.id)

	go s.writePump(ws, c)
	s.readPump(ws, c, kind)

	s.Registry.removeConn(c)
	s.trackConnMetric(kind, -1)
	close(c.send)
	if kind == kindWorkstation {
		s.endOwnedSessions(c)
	}
	log.Printf("relay: %s disconnected principal=%s conn=%s", kindLabel(kind), principal, c.id)
}

// authenticate reads the mandatory first frame (§6 "auth must be the first
// message sent on every connection") and replies auth_ok/auth_error.
func (s *Server) authenticate(ws *websocket.Conn) (string, bool) {
	ws.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", false
	}
	ws.SetReadDeadline(time.Time{})

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != TypeAuth {
		s.writeDirect(ws, TypeAuthError, authErrorPayload{Message: "first message must be auth"})
		return "", false
	}

	var p authPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		s.writeDirect(ws, TypeAuthError, authErrorPayload{Message: "malformed auth payload"})
		return "", false
	}

	principal, ok := s.Verifier.Verify(p.Token)
	if !ok {
		if s.Metrics != nil {
			s.Metrics.AuthFailures.Inc()
		}
		s.writeDirect(ws, TypeAuthError, authErrorPayload{Message: "invalid token"})
		return "", false
	}

	s.writeDirect(ws, TypeAuthOK, nil)
	return principal, true
}

func (s *Server) writeDirect(ws *websocket.Conn, msgType string, payload any) {
	f, err := frame(msgType, payload)
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	ws.WriteJSON(f)
}

func (s *Server) writePump(ws *websocket.Conn, c *conn) {
	for f := range c.send {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteJSON(f); err != nil {
			return
		}
	}
}

func (s *Server) readPump(ws *websocket.Conn, c *conn, kind connKind) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if kind == kindWorkstation {
			s.dispatchWorkstation(c, f)
		} else {
			s.dispatchViewer(c, f)
		}
	}
}

func (s *Server) trackConnMetric(kind connKind, delta int64) {
	if s.Metrics == nil {
		return
	}
	if kind == kindWorkstation {
		s.Metrics.WorkstationConnections.Add(float64(delta))
	} else {
		s.Metrics.ViewerConnections.Add(float64(delta))
	}
}

func kindLabel(kind connKind) string {
	if kind == kindWorkstation {
		return "workstation"
	}
	return "viewer"
}

func send(c *conn, msgType string, payload any) {
	f, err := frame(msgType, payload)
	if err != nil {
		log.Printf("relay: encode %s: %v", msgType, err)
		return
	}
	select {
	case c.send <- f:
	default:
		log.Printf("relay: conn %s send buffer full, dropping %s", c.id, msgType)
	}
}
