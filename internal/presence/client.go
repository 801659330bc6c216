package presence

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"

	"fitpass/internal/auth"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// SnapshotFunc returns the current attendance for a session on demand.
type SnapshotFunc func(ctx context.Context, sessionID string) (any, error)

// Client represents a single observer connection.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	send     chan []byte
	claims   auth.Claims
	snapshot SnapshotFunc
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn, claims auth.Claims, snapshot SnapshotFunc) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		claims:   claims,
		snapshot: snapshot,
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// command is an observer-to-server control message.
type command struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// readPump processes control messages until the connection closes.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendJSON(map[string]string{"type": "error", "message": "bad message"})
			continue
		}
		c.handle(ctx, cmd)
	}
}

func (c *Client) handle(ctx context.Context, cmd command) {
	switch cmd.Action {
	case "join_session":
		if cmd.SessionID == "" {
			c.sendJSON(map[string]string{"type": "error", "message": "sessionId required"})
			return
		}
		c.hub.Join(c, cmd.SessionID)
		c.sendJSON(map[string]string{"type": "joined_session", "sessionId": cmd.SessionID})

	case "leave_session":
		c.hub.Leave(c, cmd.SessionID)
		c.sendJSON(map[string]string{"type": "left_session", "sessionId": cmd.SessionID})

	case "get_attendance":
		// Snapshot pull is restricted to teachers and admins; joining the
		// topic for pushes is open to any authenticated connection.
		if !c.claims.IsTeacher() && !c.claims.IsAdmin() {
			c.sendJSON(map[string]string{"type": "error", "message": "unauthorized"})
			return
		}
		if c.snapshot == nil {
			c.sendJSON(map[string]string{"type": "error", "message": "snapshot unavailable"})
			return
		}
		attendances, err := c.snapshot(ctx, cmd.SessionID)
		if err != nil {
			c.sendJSON(map[string]string{"type": "error", "message": "failed to get attendance"})
			return
		}
		c.sendJSON(map[string]any{
			"type":        "session_attendance",
			"sessionId":   cmd.SessionID,
			"attendances": attendances,
		})

	default:
		c.sendJSON(map[string]string{"type": "error", "message": "unknown action"})
	}
}

// sendJSON queues a message for the write pump, dropping it if the buffer is
// full.
func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel; connection is done.
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
