package transcript

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func record(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal test record: %v", err)
	}
	return b
}

func TestParserEmitsMessageForAssistantText(t *testing.T) {
	p := NewParser("sess-1")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	data := record(t, map[string]any{
		"type":      "assistant",
		"timestamp": ts.Format(time.RFC3339Nano),
		"message": map[string]any{
			"role":    "assistant",
			"content": "hello there",
		},
	})

	events := p.Feed(data, ts.Add(-time.Second).UnixNano())
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	if events[0].Kind != EventMessage || events[0].Text != "hello there" {
		t.Errorf("got %+v", events[0])
	}
}

func TestParserSkipsMessageBeforeSessionStart(t *testing.T) {
	p := NewParser("sess-1")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	data := record(t, map[string]any{
		"type":      "user",
		"timestamp": ts.Format(time.RFC3339Nano),
		"message": map[string]any{
			"role":    "user",
			"content": "stale message",
		},
	})

	events := p.Feed(data, ts.Add(time.Hour).UnixNano())
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0: %+v", len(events), events)
	}
}

func TestParserDeduplicatesRecordsAcrossFeeds(t *testing.T) {
	p := NewParser("sess-1")
	ts := time.Now()
	data := record(t, map[string]any{
		"type":      "assistant",
		"timestamp": ts.Format(time.RFC3339Nano),
		"message": map[string]any{
			"role":    "assistant",
			"content": "once only",
		},
	})

	first := p.Feed(data, 0)
	second := p.Feed(data, 0)
	if len(first) != 1 {
		t.Fatalf("first feed: got %d events, want 1", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("second feed: got %d events, want 0 (dedup)", len(second))
	}
}

func TestParserSlugEmittedOnce(t *testing.T) {
	p := NewParser("sess-1")
	data1 := record(t, map[string]any{"type": "meta", "slug": "fix-login-bug"})
	data2 := record(t, map[string]any{"type": "meta", "slug": "fix-login-bug", "uuid": "rec-2"})

	events := p.Feed(data1, 0)
	if len(events) != 1 || events[0].Kind != EventSlug {
		t.Fatalf("got %+v, want one slug event", events)
	}

	events = p.Feed(data2, 0)
	if len(events) != 0 {
		t.Fatalf("second slug line re-emitted: %+v", events)
	}
}

func TestParserTaskListEdgeTriggered(t *testing.T) {
	p := NewParser("sess-1")
	data1 := record(t, map[string]any{
		"type": "meta",
		"todos": []map[string]any{
			{"content": "write tests", "status": "pending"},
		},
	})
	events := p.Feed(data1, 0)
	if len(events) != 1 || events[0].Kind != EventTaskList {
		t.Fatalf("got %+v, want one task_list event", events)
	}

	// Identical todo list on a different record should not re-fire.
	data2 := record(t, map[string]any{
		"type": "meta",
		"uuid": "rec-2",
		"todos": []map[string]any{
			{"content": "write tests", "status": "pending"},
		},
	})
	events = p.Feed(data2, 0)
	if len(events) != 0 {
		t.Fatalf("unchanged task list re-emitted: %+v", events)
	}

	data3 := record(t, map[string]any{
		"type": "meta",
		"todos": []map[string]any{
			{"content": "write tests", "status": "completed"},
		},
	})
	events = p.Feed(data3, 0)
	if len(events) != 1 || events[0].Kind != EventTaskList {
		t.Fatalf("changed task list did not re-fire: %+v", events)
	}
}

func TestParserToolUseAndResult(t *testing.T) {
	p := NewParser("sess-1")
	toolUse := record(t, map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role": "assistant",
			"content": []map[string]any{
				{"type": "tool_use", "id": "call-1", "name": "bash", "input": map[string]any{"command": "ls"}},
			},
		},
	})
	events := p.Feed(toolUse, 0)
	if len(events) != 1 || events[0].Kind != EventToolCall || events[0].ToolCallID != "call-1" {
		t.Fatalf("got %+v", events)
	}

	toolResult := record(t, map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "call-1", "content": "total 0", "is_error": false},
			},
		},
	})
	events = p.Feed(toolResult, 0)
	if len(events) != 1 || events[0].Kind != EventToolResult || events[0].ToolResultCallID != "call-1" {
		t.Fatalf("got %+v", events)
	}
}

func TestParserModeChangeEdgeTriggered(t *testing.T) {
	p := NewParser("sess-1")
	enter := record(t, map[string]any{
		"type":   "user",
		"isMeta": true,
		"message": map[string]any{
			"role":    "user",
			"content": "Plan mode is active. Present a plan before making changes.",
		},
	})
	events := p.Feed(enter, 0)
	if len(events) != 1 || events[0].Kind != EventModeChange || events[0].Mode != ModePlanning {
		t.Fatalf("got %+v", events)
	}

	// Same marker again should not re-fire.
	enterAgain := record(t, map[string]any{
		"type":   "user",
		"isMeta": true,
		"message": map[string]any{
			"role":    "user",
			"content": "Plan mode is active, reminder.",
		},
	})
	events = p.Feed(enterAgain, 0)
	if len(events) != 0 {
		t.Fatalf("duplicate mode re-fired: %+v", events)
	}

	exit := record(t, map[string]any{
		"type":   "user",
		"isMeta": true,
		"message": map[string]any{
			"role":    "user",
			"content": "Plan mode has been exited; proceeding with implementation.",
		},
	})
	events = p.Feed(exit, 0)
	if len(events) != 1 || events[0].Mode != ModeExecuting {
		t.Fatalf("got %+v", events)
	}
}

func TestParserSkipsEmptyLines(t *testing.T) {
	p := NewParser("sess-1")
	data := []byte("\n\n   \n")
	events := p.Feed(data, 0)
	if len(events) != 0 {
		t.Fatalf("got %+v, want no events from blank lines", events)
	}
}

func TestParserFeedsMultipleRecordsInOneCall(t *testing.T) {
	p := NewParser("sess-1")
	ts := time.Now()
	r1 := record(t, map[string]any{
		"type":      "assistant",
		"timestamp": ts.Format(time.RFC3339Nano),
		"message":   map[string]any{"role": "assistant", "content": "first"},
	})
	r2 := record(t, map[string]any{
		"type":      "assistant",
		"timestamp": ts.Format(time.RFC3339Nano),
		"message":   map[string]any{"role": "assistant", "content": "second"},
	})

	data := append(append(append([]byte{}, r1...), '\n'), r2...)
	events := p.Feed(data, 0)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Text != "first" || events[1].Text != "second" {
		t.Fatalf("got %+v", events)
	}
}

func TestParserIgnoresMalformedLine(t *testing.T) {
	p := NewParser("sess-1")
	data := []byte(strings.TrimSpace(`not json`))
	events := p.Feed(data, 0)
	if len(events) != 0 {
		t.Fatalf("got %+v, want no events from malformed line", events)
	}
}
