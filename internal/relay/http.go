package relay

import (
	"encoding/json"
	"net/http"

	"github.com/agent-command/sessionrelay/internal/auth"
)

// pairingExpirySeconds is auth.PairingTTL expressed in whole seconds, the
// unit the pairing response's `expires_in` field uses.
var pairingExpirySeconds = int(auth.PairingTTL.Seconds())

// Routes returns the relay's full HTTP surface: WebSocket upgrades plus
// the pairing and health endpoints (§4.2, §6).
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/workstation", s.HandleWorkstation)
	mux.HandleFunc("GET /ws/viewer", s.HandleViewer)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /pair", s.handlePairCreate)
	mux.HandleFunc("GET /pair/{code}", s.handlePairPoll)
	mux.HandleFunc("POST /pair/verify", s.handlePairVerify)
	mux.HandleFunc("POST /devices", s.handleDevices)
	mux.HandleFunc("GET /devices", s.handleListDevices)
	return mux
}

type healthPayload struct {
	WorkstationConnections int `json:"workstationConnections"`
	ViewerConnections      int `json:"viewerConnections"`
	Sessions               int `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthPayload{
		WorkstationConnections: len(s.Registry.connsForKind(kindWorkstation)),
		ViewerConnections:      len(s.Registry.connsForKind(kindViewer)),
		Sessions:               s.Registry.sessionCount(),
	})
}

type pairCreateResponse struct {
	Code            string `json:"code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
}

// handlePairCreate starts a device pairing flow (§4.2 step i): a
// workstation with no stored credential requests a fresh code, a URL for
// an already-authenticated viewer to open and verify it at, and the
// code's 10-minute expiry in seconds.
func (s *Server) handlePairCreate(w http.ResponseWriter, r *http.Request) {
	if s.Metrics != nil {
		s.Metrics.PairingAttempts.Inc()
	}
	code, err := s.Pairing.Create()
	if err != nil {
		http.Error(w, "failed to create pairing code", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pairCreateResponse{
		Code:            code,
		VerificationURL: verificationURL(r, code),
		ExpiresIn:       pairingExpirySeconds,
	})
}

// verificationURL builds the absolute URL a viewer opens to complete
// step ii, from the request's own scheme/host rather than a separately
// configured base URL.
func verificationURL(r *http.Request, code string) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + "/pair/verify?code=" + code
}

type pairPollResponse struct {
	Status     string `json:"status"`
	Credential string `json:"credential,omitempty"`
}

// handlePairPoll is the workstation's side of step iii: poll until the
// code is verified or it expires.
func (s *Server) handlePairPoll(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	credential, err := s.Pairing.Poll(code)
	switch err {
	case nil:
		writeJSON(w, http.StatusOK, pairPollResponse{Status: "verified", Credential: credential})
	case auth.ErrPairingPending:
		writeJSON(w, http.StatusAccepted, pairPollResponse{Status: "pending"})
	case auth.ErrPairingGone:
		http.Error(w, "pairing code expired or unknown", http.StatusGone)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type pairVerifyRequest struct {
	Code string `json:"code"`
}

// handlePairVerify is called by an already-authenticated viewer
// (principal-token on the Authorization header, §4.2 step ii) to hand
// the pending workstation a fresh device credential bound to the same
// principal.
func (s *Server) handlePairVerify(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.Verifier.Verify(bearerToken(r))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req pairVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	credential, err := auth.IssueCredential()
	if err != nil {
		http.Error(w, "failed to issue credential", http.StatusInternalServerError)
		return
	}
	if err := s.Pairing.Verify(req.Code, credential); err != nil {
		http.Error(w, "pairing code expired or unknown", http.StatusGone)
		return
	}
	if registrar, ok := s.Verifier.(auth.Registrar); ok {
		registrar.Register(credential, principal)
	}
	w.WriteHeader(http.StatusNoContent)
}

type deviceRegisterRequest struct {
	PushToken string `json:"pushToken"`
}

// handleDevices lets an authenticated caller register a push token over
// plain HTTP, an alternative to the WebSocket register_push_token frame
// for clients that only hold a short-lived REST session.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	principal, ok := s.Verifier.Verify(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req deviceRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	s.pushTokens.add(principal, req.PushToken)
	w.WriteHeader(http.StatusNoContent)
}

type deviceListResponse struct {
	PushTokens []string `json:"pushTokens"`
}

// handleListDevices returns the authenticated caller's own registered
// push tokens, the read side of handleDevices/register_push_token.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.Verifier.Verify(bearerToken(r))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, deviceListResponse{PushTokens: s.pushTokens.tokensFor(principal)})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
