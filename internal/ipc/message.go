// Package ipc implements the local rendezvous endpoint between a session
// runner and the Session Manager: one object per newline-terminated line,
// over a Unix domain socket (§6 "Workstation ⇄ Session Runner (local
// IPC)").
package ipc

import "encoding/json"

const (
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypeInput        = "input"
)

// Envelope is the wire shape of every line in both directions; unused
// fields are simply omitted by the sender.
type Envelope struct {
	Type       string   `json:"type"`
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Cwd        string   `json:"cwd,omitempty"`
	ProjectDir string   `json:"projectDir,omitempty"`
	Command    []string `json:"command,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	Text       string   `json:"text,omitempty"`
}

func encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
