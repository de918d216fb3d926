package ipc

import (
	"bufio"
	"encoding/json"
	"net"
)

// Client is the session runner's side of the rendezvous socket: announce a
// session, then read framed input back from SM.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to the rendezvous socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Client{conn: conn, scanner: scanner}, nil
}

// AnnounceSessionStart sends {type:"session_start", ...}.
func (c *Client) AnnounceSessionStart(id, name, cwd, projectDir string, command []string) error {
	b, err := encode(Envelope{
		Type:       TypeSessionStart,
		ID:         id,
		Name:       name,
		Cwd:        cwd,
		ProjectDir: projectDir,
		Command:    command,
	})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

// AnnounceSessionEnd sends {type:"session_end", sessionId}.
func (c *Client) AnnounceSessionEnd(sessionID string) error {
	b, err := encode(Envelope{Type: TypeSessionEnd, SessionID: sessionID})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

// ReadInput blocks for the next {type:"input", text} frame from SM.
func (c *Client) ReadInput() (string, error) {
	for c.scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(c.scanner.Bytes(), &env); err != nil {
			continue
		}
		if env.Type == TypeInput {
			return env.Text, nil
		}
	}
	if err := c.scanner.Err(); err != nil {
		return "", err
	}
	return "", net.ErrClosed
}

func (c *Client) Close() error {
	return c.conn.Close()
}
