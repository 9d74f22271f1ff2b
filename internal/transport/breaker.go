package transport

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Dial while repeated dial failures keep the
// breaker open.
var ErrCircuitOpen = errors.New("transport: dial circuit open")

// breaker stops a flapping endpoint from being hammered by reconnect attempts
// (repeated engage presses, backoff retries). After maxFailures consecutive
// dial failures it rejects dials for cooldown, then lets a single trial dial
// through; its outcome closes or re-opens it.
type breaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	trialing bool
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	return &breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// do runs fn unless the breaker is open.
func (b *breaker) do(fn func() error) error {
	b.mu.Lock()
	if b.failures >= b.maxFailures {
		if b.trialing || b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trialing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	wasTrial := b.trialing
	b.trialing = false
	if err == nil {
		if b.failures >= b.maxFailures {
			slog.Info("transport: dial circuit closed")
		}
		b.failures = 0
		return nil
	}
	b.failures++
	if b.failures == b.maxFailures || wasTrial {
		b.openedAt = b.now()
		slog.Warn("transport: dial circuit opened", "consecutive_failures", b.failures, "cooldown", b.cooldown)
	}
	return err
}

// isOpen reports whether dials are currently being rejected.
func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.maxFailures && b.now().Sub(b.openedAt) < b.cooldown
}
