// Package mock provides in-memory implementations of [transport.Dialer] and
// [transport.Conn] for unit tests.
//
// A [Conn] records every outbound message and lets the test inject inbound
// messages or simulate the server dropping the connection:
//
//	conn := mock.NewConn()
//	dialer := &mock.Dialer{Conns: []*mock.Conn{conn}}
//	conn.InjectText(`{"type":"hello","session_id":"s1"}`)
//	conn.Drop(errors.New("reset by peer"))
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/parley/internal/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// ─── Dialer ───────────────────────────────────────────────────────────────────

// Dialer hands out the queued Conns in order. Once the queue is exhausted a
// fresh Conn is created per dial.
type Dialer struct {
	mu sync.Mutex

	// Conns are returned by successive Dial calls.
	Conns []*Conn

	// DialError, when non-nil, is returned instead of a connection.
	DialError error

	// OnDial, when set, is called with every Conn before Dial returns it.
	OnDial func(*Conn)

	dialed []*Conn
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if d.DialError != nil {
		err := d.DialError
		d.mu.Unlock()
		return nil, err
	}
	var c *Conn
	if len(d.Conns) > 0 {
		c, d.Conns = d.Conns[0], d.Conns[1:]
	} else {
		c = NewConn()
	}
	d.dialed = append(d.dialed, c)
	hook := d.OnDial
	d.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return c, nil
}

// SetDialError replaces DialError under the lock.
func (d *Dialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialError = err
}

// Dialed returns every Conn handed out so far.
func (d *Dialer) Dialed() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.dialed))
	copy(out, d.dialed)
	return out
}

// Last returns the most recently dialed Conn, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialed) == 0 {
		return nil
	}
	return d.dialed[len(d.dialed)-1]
}

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock [transport.Conn].
type Conn struct {
	mu sync.Mutex

	messages  chan transport.Message
	connected bool
	err       error
	ended     bool

	texts    [][]byte
	binaries [][]byte

	// OnText, when set, is called with each sent text message after it is
	// recorded. It runs on the sender's goroutine.
	OnText func([]byte)

	// SendError, when non-nil, is returned by sends while connected.
	SendError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewConn returns a connected mock.
func NewConn() *Conn {
	return &Conn{messages: make(chan transport.Message, 64), connected: true}
}

// SendText implements [transport.Conn].
func (c *Conn) SendText(_ context.Context, data []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return transport.ErrNotConnected
	}
	if c.SendError != nil {
		err := c.SendError
		c.mu.Unlock()
		return err
	}
	c.texts = append(c.texts, append([]byte(nil), data...))
	hook := c.OnText
	c.mu.Unlock()
	if hook != nil {
		hook(data)
	}
	return nil
}

// SendBinary implements [transport.Conn].
func (c *Conn) SendBinary(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.ErrNotConnected
	}
	if c.SendError != nil {
		return c.SendError
	}
	c.binaries = append(c.binaries, append([]byte(nil), data...))
	return nil
}

// Messages implements [transport.Conn].
func (c *Conn) Messages() <-chan transport.Message { return c.messages }

// Connected implements [transport.Conn].
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Err implements [transport.Conn].
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements [transport.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.endLocked(nil)
	return nil
}

// InjectText queues an inbound text message. It returns false once the
// connection has ended.
func (c *Conn) InjectText(s string) bool {
	return c.inject(transport.Message{Kind: transport.KindText, Data: []byte(s)})
}

// InjectBinary queues an inbound binary message.
func (c *Conn) InjectBinary(b []byte) bool {
	return c.inject(transport.Message{Kind: transport.KindBinary, Data: b})
}

func (c *Conn) inject(m transport.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.messages <- m
	return true
}

// Drop simulates the server side ending the connection with err.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		err = errors.New("mock: connection dropped")
	}
	c.endLocked(err)
}

func (c *Conn) endLocked(err error) {
	c.connected = false
	if c.ended {
		return
	}
	c.ended = true
	c.err = err
	close(c.messages)
}

// Texts returns a copy of every sent text message.
func (c *Conn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	for i, t := range c.texts {
		out[i] = string(t)
	}
	return out
}

// Binaries returns a copy of every sent binary message.
func (c *Conn) Binaries() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.binaries))
	copy(out, c.binaries)
	return out
}
