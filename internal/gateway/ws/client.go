package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// Client is one connected websocket subscriber: a read/write pump pair
// over one connection, with per-task subscription cancellation against
// the Subscription Bus.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // taskID -> cancel for its streamTask goroutine
}

// NewClient wraps conn for hub.
func NewClient(hub *Hub, conn *websocket.Conn, log *logger.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		logger:  log,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Send enqueues msg for delivery, dropping it if the client's buffer is
// full rather than blocking the hub.
func (c *Client) Send(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(msg OutMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal outbound message", zap.Error(err))
		return
	}
	c.Send(data)
}

// streamTask starts (or restarts) forwarding taskID's execution events to
// c as task:execution_event messages from sinceSeq, replacing any
// subscription this client already holds for the same task.
func (c *Client) streamTask(parent context.Context, h *Hub, taskID string, sinceSeq int64) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	if prev, ok := c.cancels[taskID]; ok {
		prev()
	}
	c.cancels[taskID] = cancel
	c.mu.Unlock()

	events, err := h.subs.Subscribe(ctx, taskID, sinceSeq)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	go func() {
		for ev := range events {
			c.sendJSON(OutMessage{Type: TypeExecutionEvent, Data: ev})
		}
	}()
}

func (c *Client) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
}

// ReadPump reads client->server messages until the connection closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.hub.Dispatch(ctx, c, message)
	}
}

// WritePump writes server->client messages and keepalive pings until the
// connection closes or the hub closes c.send.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
