package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*wsConn)(nil)
)

const (
	defaultDialTimeout = 10 * time.Second
	keepaliveTimeout   = 5 * time.Second
	readLimit          = 1 << 20
	inboundQueue       = 64
)

// Identity is the device identity presented in the handshake headers.
type Identity struct {
	AccessToken     string
	DeviceID        string
	ClientID        string
	ProtocolVersion int
}

// Header returns the HTTP upgrade headers for id.
func (id Identity) Header() http.Header {
	h := http.Header{}
	if id.AccessToken != "" {
		h.Set("Authorization", "Bearer "+id.AccessToken)
	}
	h.Set("Protocol-Version", strconv.Itoa(max(id.ProtocolVersion, 1)))
	if id.DeviceID != "" {
		h.Set("Device-Id", id.DeviceID)
	}
	if id.ClientID != "" {
		h.Set("Client-Id", id.ClientID)
	}
	return h
}

// WebSocketDialer dials the service over WebSocket.
type WebSocketDialer struct {
	url         string
	identity    Identity
	dialTimeout time.Duration
	keepalive   time.Duration
	breaker     *breaker
}

// Option is a functional option for [NewWebSocketDialer].
type Option func(*WebSocketDialer)

// WithDialTimeout bounds each dial attempt. Default 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(w *WebSocketDialer) { w.dialTimeout = d }
}

// WithKeepalive sets the ping interval. Zero disables pings. Default 20s.
func WithKeepalive(d time.Duration) Option {
	return func(w *WebSocketDialer) { w.keepalive = d }
}

// WithCircuitBreaker sets how many consecutive dial failures open the dial
// circuit and how long it stays open.
func WithCircuitBreaker(maxFailures int, cooldown time.Duration) Option {
	return func(w *WebSocketDialer) { w.breaker = newBreaker(maxFailures, cooldown) }
}

// NewWebSocketDialer returns a dialer for url presenting identity.
func NewWebSocketDialer(url string, identity Identity, opts ...Option) *WebSocketDialer {
	d := &WebSocketDialer{
		url:         url,
		identity:    identity,
		dialTimeout: defaultDialTimeout,
		keepalive:   20 * time.Second,
		breaker:     newBreaker(0, 0),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CircuitOpen reports whether dials are currently rejected.
func (d *WebSocketDialer) CircuitOpen() bool { return d.breaker.isOpen() }

// Dial implements [Dialer].
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	var ws *websocket.Conn
	err := d.breaker.do(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
		defer cancel()
		var err error
		ws, _, err = websocket.Dial(dialCtx, d.url, &websocket.DialOptions{
			HTTPHeader: d.identity.Header(),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", d.url, err)
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		ws:       ws,
		messages: make(chan Message, inboundQueue),
		done:     make(chan struct{}),
		ctx:      connCtx,
		cancel:   cancel,
	}
	c.connected.Store(true)

	go c.receiveLoop()
	if d.keepalive > 0 {
		go c.keepaliveLoop(d.keepalive)
	}
	slog.Debug("transport: connected", "url", d.url)
	return c, nil
}

// ── wsConn ───────────────────────────────────────────────────────────────────

type wsConn struct {
	ws        *websocket.Conn
	messages  chan Message
	connected atomic.Bool

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *wsConn) SendText(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.MessageText, data)
}

func (c *wsConn) SendBinary(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.MessageBinary, data)
}

func (c *wsConn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.ws.Write(ctx, typ, data); err != nil {
		if ctx.Err() != nil {
			// A timed-out write closes the socket in coder/websocket.
			c.fail(err)
		}
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *wsConn) Messages() <-chan Message { return c.messages }

func (c *wsConn) Connected() bool { return c.connected.Load() }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.connected.Store(false)
	close(c.done)
	if err := c.ws.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
		slog.Debug("transport: close", "err", err)
	}
	c.cancel()
	return nil
}

// NormalClosure reports whether err, as returned by [Conn.Err], is the peer
// closing the socket with a normal closure status.
func NormalClosure(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// receiveLoop owns messages and closes it when the socket ends.
func (c *wsConn) receiveLoop() {
	defer close(c.messages)
	defer c.connected.Store(false)

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.fail(err)
			return
		}
		kind := KindText
		if typ == websocket.MessageBinary {
			kind = KindBinary
		}
		select {
		case c.messages <- Message{Kind: kind, Data: data}:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) keepaliveLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				slog.Warn("transport: keepalive ping failed", "err", err)
				c.fail(err)
				return
			}
		}
	}
}

// fail records err as the end reason unless the connection was closed
// locally, and tears the socket down.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if !c.closed && c.errVal == nil {
		c.errVal = fmt.Errorf("transport: connection lost: %w", err)
	}
	c.mu.Unlock()
	c.connected.Store(false)
	c.cancel()
}
