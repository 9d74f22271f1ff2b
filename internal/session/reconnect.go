package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Reconnector re-establishes the session after an unexpected disconnect.
//
// Each attempt calls the configured Connect function, which must perform a
// full dial and handshake; listening therefore only resumes after a fresh
// server hello. Attempts back off exponentially and stop after MaxRetries.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	connect    func(context.Context) error
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	metrics    *observe.Metrics
	after      func(time.Duration) <-chan time.Time

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Connect dials and completes the handshake.
	Connect func(context.Context) error

	// MaxRetries bounds the attempts per disconnect. Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Metrics records attempt outcomes. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		connect:      cfg.Connect,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		metrics:      cfg.Metrics,
		after:        time.After,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// NotifyDisconnect asks for a reconnection cycle. Calls while a cycle is
// already pending are coalesced.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop ends Run and aborts a cycle in progress. Safe to call more than once.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Run processes disconnect notifications until ctx ends or Stop is called.
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case <-r.disconnected:
			r.attempt(ctx)
		}
	}
}

// attempt retries Connect with exponential backoff. It reports whether the
// session was re-established.
func (r *Reconnector) attempt(ctx context.Context) bool {
	wait := r.backoff
	for n := 1; n <= r.maxRetries; n++ {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case <-r.after(wait):
		}

		slog.Info("session: reconnecting", "attempt", n, "max_retries", r.maxRetries)
		err := r.connect(ctx)
		if err == nil {
			r.metrics.RecordReconnect(ctx, "ok")
			slog.Info("session: reconnected", "attempt", n)
			return true
		}
		r.metrics.RecordReconnect(ctx, "error")
		slog.Warn("session: reconnect attempt failed", "attempt", n, "err", err)

		wait = min(wait*2, r.maxBackoff)
	}
	r.metrics.RecordReconnect(ctx, "gave_up")
	slog.Error("session: reconnection failed, engage to retry", "max_retries", r.maxRetries)
	return false
}
