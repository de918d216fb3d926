package adapter

import (
	"sync"
	"time"
)

// Chunk splits text into pieces no longer than limit runes, preferring to
// break on the last newline inside the window so a chunked message still
// reads as whole lines where possible.
func Chunk(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		window := runes[:limit]
		cut := -1
		for i := len(window) - 1; i >= 0; i-- {
			if window[i] == '\n' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			chunks = append(chunks, string(window))
			runes = runes[limit:]
			continue
		}

		chunks = append(chunks, string(window[:cut]))
		runes = runes[cut+1:]
	}
	return chunks
}

// RateLimiter enforces a sustained dispatch rate (§4.3 "MAY rate-limit
// dispatch, e.g. ~10 messages/second"), a minimal stdlib token-bucket: no
// third-party limiter appears anywhere in the example pack.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &RateLimiter{interval: time.Second / time.Duration(perSecond)}
}

// Wait blocks until it is this caller's turn to dispatch, serializing
// adapter posts to the configured sustained rate.
func (r *RateLimiter) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	earliest := r.last.Add(r.interval)
	if now.Before(earliest) {
		time.Sleep(earliest.Sub(now))
		now = earliest
	}
	r.last = now
}
