package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
)

// planModeMarkers are substrings that appear in synthetic user messages
// (system reminders injected into the transcript) when the session enters
// or leaves plan mode. They are observed, not configurable.
const (
	planModeEnterMarker = "plan mode is active"
	planModeExitMarker  = "plan mode has been"
)

// Parser turns a session's transcript bytes into a deduplicated, ordered
// Event stream. The manager owns one Parser per session and may wake that
// session from more than one goroutine (Register and the directory
// watcher), so Feed calls are serialized.
type Parser struct {
	mu        sync.Mutex
	sessionID string

	seenHashes   map[string]struct{}
	slugEmitted  bool
	lastTaskHash string
	lastMode     Mode
	modeKnown    bool
}

// NewParser creates a Parser for one session.
func NewParser(sessionID string) *Parser {
	return &Parser{
		sessionID:  sessionID,
		seenHashes: make(map[string]struct{}),
	}
}

// Feed splits raw transcript bytes on newline boundaries and returns the
// Events derived from any records not already seen. sessionStartNanos
// bounds which message records are eligible (spec §4.1 step 5): a message
// timestamped before the session's own start is never surfaced, since it
// belongs to a resumed session's prior history.
func (p *Parser) Feed(data []byte, sessionStartNanos int64) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []Event

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		hash := HashRecord(line)
		if _, seen := p.seenHashes[hash]; seen {
			continue
		}
		p.seenHashes[hash] = struct{}{}

		rec, err := decodeRecord(line)
		if err != nil {
			// parse-malformed: skipped at record granularity, never fatal.
			continue
		}

		events = append(events, p.applyRecord(rec, sessionStartNanos)...)
	}

	return events
}

func decodeRecord(line []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// applyRecord implements the §4.1 parse order: slug, task-list, mode
// transition, tool blocks, then conversational message.
func (p *Parser) applyRecord(rec *Record, sessionStartNanos int64) []Event {
	var out []Event

	if rec.Slug != "" && !p.slugEmitted {
		p.slugEmitted = true
		out = append(out, Event{Kind: EventSlug, SessionID: p.sessionID, Slug: rec.Slug})
	}

	if len(rec.Todos) > 0 {
		h := HashTaskList(rec.Todos)
		if h != p.lastTaskHash {
			p.lastTaskHash = h
			out = append(out, Event{Kind: EventTaskList, SessionID: p.sessionID, Todos: rec.Todos})
		}
	}

	if rec.Type == "user" && rec.IsMeta {
		if mode, changed := p.detectModeChange(rec); changed {
			out = append(out, Event{Kind: EventModeChange, SessionID: p.sessionID, Mode: mode})
		}
	}

	if rec.Message != nil {
		switch rec.Type {
		case "assistant":
			for _, b := range rec.Message.Content.Blocks {
				if b.Kind == BlockToolUse {
					out = append(out, Event{
						Kind:       EventToolCall,
						SessionID:  p.sessionID,
						ToolCallID: b.ToolUseID,
						ToolName:   b.ToolName,
						ToolInput:  b.ToolInput,
					})
				}
			}
		case "user":
			for _, b := range rec.Message.Content.Blocks {
				if b.Kind == BlockToolResult {
					out = append(out, Event{
						Kind:             EventToolResult,
						SessionID:        p.sessionID,
						ToolResultCallID: b.ToolResultCallID,
						ToolResultText:   b.ToolResultText,
						ToolResultIsErr:  b.ToolResultError,
					})
				}
			}
		}
	}

	if rec.IsConversational() {
		text := rec.TextContent()
		if text != "" {
			ts := rec.ParsedTime()
			if ts.UnixNano() >= sessionStartNanos {
				out = append(out, Event{
					Kind:      EventMessage,
					SessionID: p.sessionID,
					Role:      rec.Message.Role,
					Text:      text,
					Timestamp: ts,
				})
			}
		}
	}

	return out
}

func (p *Parser) detectModeChange(rec *Record) (Mode, bool) {
	text := strings.ToLower(rec.TextContent())
	var next Mode
	switch {
	case strings.Contains(text, planModeEnterMarker):
		next = ModePlanning
	case strings.Contains(text, planModeExitMarker):
		next = ModeExecuting
	default:
		return "", false
	}

	if p.modeKnown && p.lastMode == next {
		return "", false
	}
	p.modeKnown = true
	p.lastMode = next
	return next, true
}
