package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agent-command/sessionrelay/internal/auth"
)

func TestHealthReportsCounts(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.WorkstationConnections != 0 || body.Sessions != 0 {
		t.Fatalf("expected zeroed counters on a fresh server, got %+v", body)
	}
}

func TestPairingRoundTrip(t *testing.T) {
	verifier := auth.NewStaticVerifier(map[string]string{"tok-alice": "alice"})
	s := NewServer(verifier, nil, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pair", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /pair, got %d", resp.StatusCode)
	}
	var created pairCreateResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.Code == "" {
		t.Fatal("expected a pairing code")
	}
	if created.VerificationURL == "" {
		t.Fatal("expected a verification url")
	}
	if created.ExpiresIn != pairingExpirySeconds {
		t.Fatalf("expected expires_in %d, got %d", pairingExpirySeconds, created.ExpiresIn)
	}

	pending, err := http.Get(srv.URL + "/pair/" + created.Code)
	if err != nil {
		t.Fatal(err)
	}
	if pending.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 while pending, got %d", pending.StatusCode)
	}
	var pendingBody pairPollResponse
	json.NewDecoder(pending.Body).Decode(&pendingBody)
	pending.Body.Close()
	if pendingBody.Status != "pending" {
		t.Fatalf("expected pending before verify, got %s", pendingBody.Status)
	}

	verifyReq, _ := json.Marshal(pairVerifyRequest{Code: created.Code})
	verifyHTTPReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/pair/verify", bytes.NewReader(verifyReq))
	verifyHTTPReq.Header.Set("Authorization", "Bearer tok-alice")
	verifyResp, err := http.DefaultClient.Do(verifyHTTPReq)
	if err != nil {
		t.Fatal(err)
	}
	verifyResp.Body.Close()
	if verifyResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from verify, got %d", verifyResp.StatusCode)
	}

	polled, err := http.Get(srv.URL + "/pair/" + created.Code)
	if err != nil {
		t.Fatal(err)
	}
	defer polled.Body.Close()
	if polled.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 once verified, got %d", polled.StatusCode)
	}
	var polledBody pairPollResponse
	json.NewDecoder(polled.Body).Decode(&polledBody)
	if polledBody.Status != "verified" || polledBody.Credential == "" {
		t.Fatalf("expected verified credential, got %+v", polledBody)
	}

	principal, ok := verifier.Verify(polledBody.Credential)
	if !ok || principal != "alice" {
		t.Fatalf("expected issued credential to authenticate as alice, got %q ok=%v", principal, ok)
	}
}

func TestPairPollUnknownCodeReturnsGone(t *testing.T) {
	s, _ := newTestServer()
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/pair/NOPE00")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
}

func TestDevicesRequiresAuth(t *testing.T) {
	verifier := auth.NewStaticVerifier(map[string]string{"tok-alice": "alice"})
	s := NewServer(verifier, nil, nil)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	body, _ := json.Marshal(deviceRegisterRequest{PushToken: "abc"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/devices", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/devices", bytes.NewReader(body))
	req2.Header.Set("Authorization", "Bearer tok-alice")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 with valid token, got %d", resp2.StatusCode)
	}

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/devices", nil)
	listReq.Header.Set("Authorization", "Bearer tok-alice")
	listResp, err := http.DefaultClient.Do(listReq)
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 listing devices, got %d", listResp.StatusCode)
	}
	var listed deviceListResponse
	json.NewDecoder(listResp.Body).Decode(&listed)
	if len(listed.PushTokens) != 1 || listed.PushTokens[0] != "abc" {
		t.Fatalf("expected registered token listed, got %+v", listed.PushTokens)
	}
}
