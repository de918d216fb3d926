package adapter

import (
	"strings"
	"testing"
	"time"
)

func TestChunkShortTextReturnsSingleChunk(t *testing.T) {
	chunks := Chunk("hello", 100)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("expected single chunk, got %v", chunks)
	}
}

func TestChunkEmptyTextReturnsNoChunks(t *testing.T) {
	if chunks := Chunk("", 100); chunks != nil {
		t.Fatalf("expected nil for empty text, got %v", chunks)
	}
}

func TestChunkBreaksOnNewlineWithinLimit(t *testing.T) {
	text := "line one\nline two\nline three"
	chunks := Chunk(text, 15)
	for _, c := range chunks {
		if len([]rune(c)) > 15 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Fatalf("chunks don't reassemble to original text: %v", chunks)
	}
}

func TestChunkHardBreaksWhenNoNewline(t *testing.T) {
	text := strings.Repeat("x", 25)
	chunks := Chunk(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 hard-broken chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("hard-broken chunks don't reassemble to original text")
	}
}

func TestRateLimiterSpacesCallsApart(t *testing.T) {
	r := NewRateLimiter(20) // 50ms apart
	start := time.Now()
	r.Wait()
	r.Wait()
	r.Wait()
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected rate limiter to space 3 calls by ~100ms, took %v", elapsed)
	}
}
