package auth

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// PairingTTL is the device-code expiry window (§4.2 "10-minute expiry",
// §8 "a device-code record 10 minutes + ε old returns gone").
const PairingTTL = 10 * time.Minute

var (
	ErrPairingPending = errors.New("auth: pairing code still pending")
	ErrPairingGone    = errors.New("auth: pairing code expired or unknown")
)

// pairingEntry tracks one outstanding device-code request. Grounded on the
// teacher's GitCache TTL-check idiom (time.Since(UpdatedAt) > ttl), applied
// here to pairing codes instead of git metadata.
type pairingEntry struct {
	createdAt  time.Time
	credential string
	verified   bool
}

// PairingStore is the relay's in-memory device-code pairing table. Entries
// evict lazily, checked on each access rather than by a background sweep
// (mirrors the teacher's TTL-cache's own "check on Get" style).
type PairingStore struct {
	mu      sync.Mutex
	entries map[string]*pairingEntry
}

func NewPairingStore() *PairingStore {
	return &PairingStore{entries: make(map[string]*pairingEntry)}
}

// Create starts a pairing flow, returning a short human-typeable code.
func (s *PairingStore) Create() (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[code] = &pairingEntry{createdAt: time.Now()}
	return code, nil
}

// Verify binds a freshly issued credential to a pending code, as performed
// by an already-authenticated viewer (§4.2 step ii).
func (s *PairingStore) Verify(code, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[code]
	if !ok || s.expiredLocked(entry) {
		delete(s.entries, code)
		return ErrPairingGone
	}

	entry.credential = credential
	entry.verified = true
	return nil
}

// Poll implements the workstation's side of step iii: pending (not yet
// verified), the credential (verified), or gone (expired/unknown).
func (s *PairingStore) Poll(code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[code]
	if !ok || s.expiredLocked(entry) {
		delete(s.entries, code)
		return "", ErrPairingGone
	}

	if !entry.verified {
		return "", ErrPairingPending
	}

	delete(s.entries, code)
	return entry.credential, nil
}

func (s *PairingStore) expiredLocked(e *pairingEntry) bool {
	return time.Since(e.createdAt) > PairingTTL
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
