package syncengine

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/apperr"
	"github.com/ageniuscoder/roomtalk/backend/internal/protocol"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport carries client events to the server. Send queues and returns;
// it must not wait for the server.
type Transport interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// Handler receives what the transport observes. *Engine implements it.
type Handler interface {
	HandleEvent(env protocol.Envelope)
	SetConnected(up bool)
	SetAuthFailed(err error)
}

var ErrOffline = errors.New("transport offline")

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsMaxMessage  = 1 << 20
	minRetryDelay = time.Second
	maxRetryDelay = 30 * time.Second
)

// WSTransport keeps one websocket to the server open, redialing with
// exponential backoff. A 401 on dial stops it for good.
type WSTransport struct {
	url     string
	token   string
	dialer  *websocket.Dialer
	log     *zap.Logger
	handler Handler

	minDelay, maxDelay time.Duration

	mu    sync.Mutex
	queue *sendQueue
	done  chan struct{}
}

// NewWSTransport builds a transport for serverURL (http or ws scheme). The
// token is sent as a bearer header on the upgrade request.
func NewWSTransport(serverURL, token string, log *zap.Logger) *WSTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSTransport{
		url:      wsURL(serverURL),
		token:    token,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log.Named("ws"),
		minDelay: minRetryDelay,
		maxDelay: maxRetryDelay,
	}
}

func wsURL(serverURL string) string {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return serverURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path += "/ws"
	}
	return u.String()
}

// Bind sets the receiver of inbound events and connectivity changes.
func (t *WSTransport) Bind(h Handler) {
	t.handler = h
}

// Send queues env for the current connection. It never waits on the
// network: the queue grows until the writer catches up.
func (t *WSTransport) Send(_ context.Context, env protocol.Envelope) error {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil || !q.push(env) {
		return ErrOffline
	}
	return nil
}

// Run dials, serves the connection until it drops and dials again, until
// ctx ends or the server rejects the credential.
func (t *WSTransport) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.minDelay
	b.MaxInterval = t.maxDelay
	b.MaxElapsedTime = 0

	for {
		var conn *websocket.Conn
		dial := func() error {
			c, err := t.dial(ctx)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}
		notify := func(err error, wait time.Duration) {
			t.log.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", wait))
		}
		if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
			if apperr.Is(err, apperr.KindAuth) && t.handler != nil {
				t.handler.SetAuthFailed(err)
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.Reset()

		t.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.token)
	conn, resp, err := t.dialer.DialContext(ctx, t.url, h)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backoff.Permanent(apperr.Auth("connect", err))
		}
		return nil, err
	}
	return conn, nil
}

func (t *WSTransport) serve(ctx context.Context, conn *websocket.Conn) {
	q := newSendQueue()
	done := make(chan struct{})
	t.mu.Lock()
	t.queue, t.done = q, done
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		t.writePump(conn, q, done)
	}()

	t.log.Info("connected", zap.String("url", t.url))
	if t.handler != nil {
		t.handler.SetConnected(true)
	}
	t.readPump(conn)

	stop()
	t.mu.Lock()
	t.queue, t.done = nil, nil
	t.mu.Unlock()
	q.close()
	close(done)
	conn.Close()
	<-wrote
	t.log.Info("disconnected")
	if t.handler != nil {
		t.handler.SetConnected(false)
	}
}

func (t *WSTransport) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	})

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("read", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		env, err := protocol.Decode(b)
		if err != nil {
			t.log.Warn("bad frame", zap.Error(err))
			continue
		}
		if t.handler != nil {
			t.handler.HandleEvent(env)
		}
	}
}

func (t *WSTransport) writePump(conn *websocket.Conn, q *sendQueue, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-q.wake:
			for _, env := range q.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(env); err != nil {
					t.log.Warn("write", zap.String("type", env.Type), zap.Error(err))
					conn.Close()
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		}
	}
}

// sendQueue holds outbound envelopes for one connection in send order.
type sendQueue struct {
	mu     sync.Mutex
	items  []protocol.Envelope
	closed bool
	wake   chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{wake: make(chan struct{}, 1)}
}

func (q *sendQueue) push(env protocol.Envelope) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *sendQueue) drain() []protocol.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}
