// Package relayclient is the workstation side of the relay link: it
// authenticates to the Relay Server over WebSocket, forwards the Session
// Manager's event stream outward, and routes inbound send_input frames
// back into the manager. Reconnection, the outbound durable queue, and
// the message envelope are adapted from the teacher's ws.Client.
package relayclient

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-command/sessionrelay/internal/queue"
)

// FrameHandler receives a decoded inbound frame's type and raw payload.
type FrameHandler func(msgType string, payload json.RawMessage)

// Client is the low-level authenticated WebSocket link to the relay, with
// at-least-once outbound delivery and exponential-backoff reconnection.
type Client struct {
	url     string
	token   string
	backoff []int

	conn         *websocket.Conn
	mu           sync.Mutex
	seq          atomic.Int64
	lastAckedSeq int64
	reconnecting bool

	queue    *queue.Queue
	stateDir string

	onFrame   FrameHandler
	onConnect func()
	done      chan struct{}
}

func NewClient(url, token string, backoff []int) *Client {
	return &Client{
		url:     url,
		token:   token,
		backoff: backoff,
		done:    make(chan struct{}),
	}
}

// SetQueue wires a durable outbound queue; state is persisted under
// stateDir so the last acked sequence survives a process restart.
func (c *Client) SetQueue(q *queue.Queue, stateDir string) {
	c.queue = q
	c.stateDir = stateDir
}

func (c *Client) SetLastAckedSeq(seq int64) {
	c.lastAckedSeq = seq
	c.seq.Store(seq)
}

func (c *Client) SetFrameHandler(h FrameHandler) {
	c.onFrame = h
}

// SetOnConnect registers a callback fired after every successful
// (re)connect, used to re-announce live sessions and flush the queue.
func (c *Client) SetOnConnect(h func()) {
	c.onConnect = h
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.Dial(c.url, headers)
	if err != nil {
		return fmt.Errorf("relayclient: dial: %w", err)
	}

	if err := conn.WriteJSON(authFrame(c.token)); err != nil {
		conn.Close()
		return fmt.Errorf("relayclient: auth: %w", err)
	}
	var ack struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("relayclient: auth read: %w", err)
	}
	if ack.Type != "auth_ok" {
		conn.Close()
		return fmt.Errorf("relayclient: auth rejected")
	}

	c.conn = conn
	c.reconnecting = false

	go c.reader()

	if c.onConnect != nil {
		go c.onConnect()
	}

	return nil
}

func authFrame(token string) map[string]any {
	payload, _ := json.Marshal(map[string]string{"token": token})
	return map[string]any{"type": "auth", "payload": json.RawMessage(payload)}
}

func (c *Client) reader() {
	defer func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		c.reconnect()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var f struct {
			Type    string          `json:"type"`
			Seq     int64           `json:"seq"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			log.Printf("relayclient: read error: %v", err)
			return
		}

		if f.Type == "ack" {
			var ackPayload struct {
				Seq int64 `json:"seq"`
			}
			if err := json.Unmarshal(f.Payload, &ackPayload); err == nil && ackPayload.Seq > 0 {
				c.mu.Lock()
				if ackPayload.Seq > c.lastAckedSeq {
					c.lastAckedSeq = ackPayload.Seq
				}
				c.mu.Unlock()
				if c.queue != nil {
					_ = c.queue.AckUpto(ackPayload.Seq)
				}
				if c.stateDir != "" {
					_ = queue.SaveAckedSeq(c.stateDir, ackPayload.Seq)
				}
			}
			continue
		}

		if c.onFrame != nil {
			c.onFrame(f.Type, f.Payload)
		}
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	for i, delay := range c.backoff {
		select {
		case <-c.done:
			return
		case <-time.After(time.Duration(delay) * time.Millisecond):
		}

		log.Printf("relayclient: reconnect attempt %d/%d", i+1, len(c.backoff))
		if err := c.Connect(); err == nil {
			log.Printf("relayclient: reconnected")
			return
		}
	}

	maxDelay := c.backoff[len(c.backoff)-1]
	for {
		select {
		case <-c.done:
			return
		case <-time.After(time.Duration(maxDelay) * time.Millisecond):
		}
		if err := c.Connect(); err == nil {
			log.Printf("relayclient: reconnected")
			return
		}
	}
}

// Send queues and transmits one frame, assigning the next outbound
// sequence number for ack tracking. sessionID tags the queued copy so a
// later DropSessionQueue call can find it; pass "" for frames with no
// single owning session. Returns the assigned sequence number.
func (c *Client) Send(msgType, sessionID string, payload any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, fmt.Errorf("relayclient: not connected")
	}

	seq := c.seq.Add(1)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("relayclient: marshal payload: %w", err)
	}

	if c.queue != nil {
		_ = c.queue.Push(queue.Message{Seq: seq, Type: msgType, SessionID: sessionID, Payload: payloadBytes})
	}

	frame := map[string]any{"type": msgType, "seq": seq, "payload": json.RawMessage(payloadBytes)}
	return seq, c.conn.WriteJSON(frame)
}

// DropSessionQueue discards queued-but-unacked traffic for a session that
// has since ended, keeping only its terminal frame (seq beforeSeq).
func (c *Client) DropSessionQueue(sessionID string, beforeSeq int64) {
	if c.queue == nil {
		return
	}
	if _, err := c.queue.DropSessionBefore(sessionID, beforeSeq); err != nil {
		log.Printf("relayclient: drop session queue for %s: %v", sessionID, err)
	}
}

func (c *Client) GetLastAckedSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAckedSeq
}

func (c *Client) Close() {
	close(c.done)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// ResendQueued retransmits every unacked queued frame in sequence order,
// called after a fresh connect (§4.4 at-least-once across relay restarts).
func (c *Client) ResendQueued() {
	if c.queue == nil {
		return
	}
	unacked := c.queue.GetUnacked()
	sort.Slice(unacked, func(i, j int) bool { return unacked[i].Seq < unacked[j].Seq })

	for _, msg := range unacked {
		frame := map[string]any{"type": msg.Type, "seq": msg.Seq, "payload": json.RawMessage(msg.Payload)}

		c.mu.Lock()
		conn := c.conn
		if conn == nil {
			c.mu.Unlock()
			return
		}
		err := conn.WriteJSON(frame)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}
