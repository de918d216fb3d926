// Package transcript models the on-disk record format written by a session
// runner and the normalized event stream the session manager derives from it.
package transcript

import (
	"encoding/json"
	"time"
)

// Record is the raw shape of one line of a transcript file. The schema is
// heterogeneous by design (the runner emits whatever shape its own message
// types have); unknown fields are simply left zero.
type Record struct {
	Type      string          `json:"type"`
	IsMeta    bool            `json:"isMeta,omitempty"`
	SubType   string          `json:"subtype,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Slug      string          `json:"slug,omitempty"`
	Todos     []TodoItem      `json:"todos,omitempty"`
	Message   *MessageField   `json:"message,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// TodoItem is one entry of a task-list record.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// MessageField carries the conversational payload of a user/assistant record.
// Content is either a plain string or a list of typed blocks;
// Content.UnmarshalJSON decodes the former into Text and the latter into
// Blocks.
type MessageField struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is the union of a plain-string message body and a heterogeneous
// list of content blocks. Exactly one of Text/Blocks is meaningful,
// depending on what the raw JSON held.
type Content struct {
	Text   string
	Blocks []Block
}

// Block is one element of a structured message body. Kind discriminates
// which of the typed fields is populated; an unrecognized kind is routed to
// BlockOther and dropped by the parser.
type Block struct {
	Kind string

	// BlockText
	Text string

	// BlockToolUse
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage

	// BlockToolResult
	ToolResultCallID string
	ToolResultText   string
	ToolResultError  bool
}

const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockOther      = "other"
)

func (c *Content) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Text = asString
		return nil
	}

	var rawBlocks []json.RawMessage
	if err := json.Unmarshal(data, &rawBlocks); err != nil {
		return err
	}

	c.Blocks = make([]Block, 0, len(rawBlocks))
	for _, raw := range rawBlocks {
		var typed struct {
			Type      string          `json:"type"`
			Text      string          `json:"text"`
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Input     json.RawMessage `json:"input"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error"`
		}
		if err := json.Unmarshal(raw, &typed); err != nil {
			c.Blocks = append(c.Blocks, Block{Kind: BlockOther})
			continue
		}

		switch typed.Type {
		case BlockText:
			c.Blocks = append(c.Blocks, Block{Kind: BlockText, Text: typed.Text})
		case BlockToolUse:
			c.Blocks = append(c.Blocks, Block{
				Kind:      BlockToolUse,
				ToolUseID: typed.ID,
				ToolName:  typed.Name,
				ToolInput: typed.Input,
			})
		case BlockToolResult:
			c.Blocks = append(c.Blocks, Block{
				Kind:             BlockToolResult,
				ToolResultCallID: typed.ToolUseID,
				ToolResultText:   resultText(typed.Content),
				ToolResultError:  typed.IsError,
			})
		default:
			c.Blocks = append(c.Blocks, Block{Kind: BlockOther})
		}
	}
	return nil
}

// resultText best-effort extracts a flat text representation of a
// tool_result content field, which may itself be a string or a list of
// text blocks.
func resultText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			if b.Type == BlockText {
				out += b.Text
			}
		}
		return out
	}
	return ""
}

// UnmarshalJSON keeps a copy of the original bytes in Raw while decoding
// the typed view used by the parser. Deduplication does not use Raw: the
// parser hashes the raw transcript line itself.
func (r *Record) UnmarshalJSON(data []byte) error {
	type alias Record
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Record(a)
	r.Raw = append(json.RawMessage{}, data...)
	return nil
}

// ParsedTime returns the record's timestamp, or the zero time if absent or
// unparseable.
func (r *Record) ParsedTime() time.Time {
	if r.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// IsConversational reports whether this record carries a user/assistant
// message that should be considered for a `message` event, i.e. it is not a
// meta or system-internal record.
func (r *Record) IsConversational() bool {
	if r.IsMeta {
		return false
	}
	if r.Type != "user" && r.Type != "assistant" {
		return false
	}
	return r.Message != nil
}

// TextContent concatenates the textual blocks of the record's message,
// trimmed. Returns "" if the message carries no plain text (e.g. only tool
// blocks).
func (r *Record) TextContent() string {
	if r.Message == nil {
		return ""
	}
	if r.Message.Content.Blocks == nil {
		return trimSpace(r.Message.Content.Text)
	}
	out := ""
	for _, b := range r.Message.Content.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return trimSpace(out)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
