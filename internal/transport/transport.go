// Package transport provides the persistent, full-duplex session socket to
// the voice-assistant service.
//
// A [Dialer] opens a [Conn]. A Conn carries text (JSON control) and binary
// (one Opus packet each) messages in both directions; inbound messages are
// delivered in arrival order on [Conn.Messages] until the connection ends.
// Sends on a closed or failed Conn return [ErrNotConnected] immediately
// instead of blocking.
package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by sends on a connection that is closed or has
// failed.
var ErrNotConnected = errors.New("transport: not connected")

// Kind distinguishes the two message channels of the socket.
type Kind int

const (
	// KindText carries JSON control messages.
	KindText Kind = iota

	// KindBinary carries encoded audio.
	KindBinary
)

// String returns "text" or "binary".
func (k Kind) String() string {
	if k == KindBinary {
		return "binary"
	}
	return "text"
}

// Message is one inbound socket message.
type Message struct {
	Kind Kind
	Data []byte
}

// Conn is one established session socket.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// SendText writes a control message.
	SendText(ctx context.Context, data []byte) error

	// SendBinary writes one audio packet.
	SendBinary(ctx context.Context, data []byte) error

	// Messages returns the inbound stream. The channel is closed when the
	// connection ends for any reason.
	Messages() <-chan Message

	// Connected reports whether sends can currently succeed.
	Connected() bool

	// Err returns why the inbound stream ended. It is nil while connected and
	// after a local Close.
	Err() error

	// Close closes the connection. Closing twice is a no-op.
	Close() error
}

// Dialer opens session sockets.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
