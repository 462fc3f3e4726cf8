package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one authenticated connection. UserID is fixed at upgrade time
// and never taken from an event payload.
type Client struct {
	ID     string
	UserID string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	// rooms is guarded by hub.mu
	rooms map[string]struct{}

	sendMu sync.RWMutex
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, userID string, opts Options) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(opts.EventsPerSecond), opts.Burst),
		rooms:   make(map[string]struct{}),
	}
}

// enqueue reports false when the send buffer is full or the client closed.
func (c *Client) enqueue(b []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles events one at a time, so a single connection's events
// are applied in the order they arrived.
func (c *Client) readPump(r *Router) {
	ctx := context.Background()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	opts := r.opts
	c.conn.SetReadLimit(opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		r.refreshPresence(ctx, c.UserID)
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Debug("read failed", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
		r.handle(ctx, c, msg)
	}
}

func (c *Client) writePump(opts Options) {
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
