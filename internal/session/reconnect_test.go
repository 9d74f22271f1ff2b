package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/parley/internal/observe"
)

// immediate fires the backoff timer at once and records the requested waits.
type immediate struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (i *immediate) after(d time.Duration) <-chan time.Time {
	i.mu.Lock()
	i.waits = append(i.waits, d)
	i.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (i *immediate) recorded() []time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]time.Duration(nil), i.waits...)
}

func newTestReconnector(t *testing.T, cfg ReconnectorConfig) (*Reconnector, *immediate) {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Metrics = met
	r := NewReconnector(cfg)
	clock := &immediate{}
	r.after = clock.after
	return r, clock
}

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Connect: func(context.Context) error { return nil }})
	if r.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", r.maxRetries, defaultMaxRetries)
	}
	if r.backoff != defaultBackoff || r.maxBackoff != defaultMaxBackoff {
		t.Errorf("backoff = %v/%v, want %v/%v", r.backoff, r.maxBackoff, defaultBackoff, defaultMaxBackoff)
	}
}

func TestReconnector_Attempt(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		var calls atomic.Int32
		r, clock := newTestReconnector(t, ReconnectorConfig{
			Connect: func(context.Context) error {
				if calls.Add(1) < 3 {
					return errors.New("refused")
				}
				return nil
			},
			Backoff:    100 * time.Millisecond,
			MaxBackoff: 250 * time.Millisecond,
		})

		if !r.attempt(context.Background()) {
			t.Fatal("attempt reported failure")
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("connect calls = %d, want 3", got)
		}
		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
		got := clock.recorded()
		if len(got) != len(want) {
			t.Fatalf("waits = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		r, _ := newTestReconnector(t, ReconnectorConfig{
			Connect: func(context.Context) error {
				calls.Add(1)
				return errors.New("refused")
			},
			MaxRetries: 3,
		})

		if r.attempt(context.Background()) {
			t.Fatal("attempt reported success")
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("connect calls = %d, want 3", got)
		}
	})

	t.Run("stop aborts the wait", func(t *testing.T) {
		var calls atomic.Int32
		r, _ := newTestReconnector(t, ReconnectorConfig{
			Connect: func(context.Context) error {
				calls.Add(1)
				return nil
			},
		})
		r.after = func(time.Duration) <-chan time.Time { return nil }
		r.Stop()

		if r.attempt(context.Background()) {
			t.Fatal("attempt succeeded after Stop")
		}
		if calls.Load() != 0 {
			t.Error("connect called after Stop")
		}
	})

	t.Run("cancelled context aborts the wait", func(t *testing.T) {
		r, _ := newTestReconnector(t, ReconnectorConfig{
			Connect: func(context.Context) error { return nil },
		})
		r.after = func(time.Duration) <-chan time.Time { return nil }
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if r.attempt(ctx) {
			t.Fatal("attempt succeeded with cancelled context")
		}
	})
}

func TestReconnector_Run(t *testing.T) {
	connected := make(chan struct{}, 4)
	r, _ := newTestReconnector(t, ReconnectorConfig{
		Connect: func(context.Context) error {
			connected <- struct{}{}
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.NotifyDisconnect()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect after NotifyDisconnect")
	}

	r.Stop()
	r.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestReconnector_NotifyCoalesces(t *testing.T) {
	r, _ := newTestReconnector(t, ReconnectorConfig{
		Connect: func(context.Context) error { return nil },
	})
	for range 5 {
		r.NotifyDisconnect()
	}
	if got := len(r.disconnected); got != 1 {
		t.Errorf("pending notifications = %d, want 1", got)
	}
}
