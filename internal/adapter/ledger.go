package adapter

import (
	"strings"
	"sync"
	"time"
)

// DefaultLedgerTTL bounds how long an unmatched outbound fingerprint is
// kept before it's evicted, so a remote message that never reappears in
// the transcript doesn't leak memory forever.
const DefaultLedgerTTL = 2 * time.Minute

// EchoLedger is the per-adapter set of recent outbound-text fingerprints
// used to drop a message(user, text) event that is really just the
// adapter's own remote input echoing back through the transcript.
// Entries evict lazily on access, the same TTL-check idiom the pairing
// store uses for device codes. Entries are kept in a map keyed by
// fingerprint: there is no size cap beyond the TTL, and adding the same
// text twice keeps a single entry, so only its first echo is dropped.
type EchoLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

func NewEchoLedger(ttl time.Duration) *EchoLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &EchoLedger{ttl: ttl, entries: make(map[string]time.Time)}
}

// Add records a fingerprint for text the adapter is about to forward to
// SM, called before send-input so the echo can be recognized as soon as
// it reappears.
func (l *EchoLedger) Add(text string) {
	fp := fingerprint(text)
	if fp == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
	l.entries[fp] = time.Now()
}

// Remove drops a fingerprint without waiting for a match, used when the
// send-input that Add anticipated actually failed.
func (l *EchoLedger) Remove(text string) {
	fp := fingerprint(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, fp)
}

// Match consults the ledger for a message(user, text) event: if the
// trimmed text matches a live entry, it is consumed (removed) and Match
// returns true; the caller should drop the event in that case.
func (l *EchoLedger) Match(text string) bool {
	fp := fingerprint(text)
	if fp == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	insertedAt, ok := l.entries[fp]
	if !ok {
		return false
	}
	delete(l.entries, fp)
	return time.Since(insertedAt) <= l.ttl
}

// Len reports the number of live (unevicted) ledger entries, for tests
// and diagnostics.
func (l *EchoLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
	return len(l.entries)
}

func (l *EchoLedger) sweepLocked() {
	now := time.Now()
	for fp, insertedAt := range l.entries {
		if now.Sub(insertedAt) > l.ttl {
			delete(l.entries, fp)
		}
	}
}

// fingerprint normalizes text for ledger comparison: trimmed, collapsed
// internal whitespace. Two texts that render identically to a human
// should produce the same fingerprint even if a platform round-trip
// changed incidental whitespace.
func fingerprint(text string) string {
	fields := strings.Fields(text)
	return strings.Join(fields, " ")
}
