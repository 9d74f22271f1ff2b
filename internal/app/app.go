// Package app wires the voice client together: session state machine,
// transport, codec, jitter buffer and audio devices.
//
// [App] owns the lifecycle. [New] assembles the pieces, [App.Run] supervises
// the capture-send, receive-dispatch and playback loops and performs the
// first connect, and [App.Shutdown] tears everything down in order.
//
// For testing, inject mock devices and a mock dialer through [Deps] and tune
// timings with functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/iot"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/jitter"
)

// Encoder compresses one PCM frame into one packet.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// Decoder expands one packet into PCM.
type Decoder interface {
	Decode(pkt []byte) ([]byte, error)
}

// Deps are the collaborators every App needs.
type Deps struct {
	Dialer   transport.Dialer
	Capture  audio.CaptureSource
	Playback audio.PlaybackSink
	Encoder  Encoder
	Decoder  Decoder
}

// PlaybackConfig tunes the playback loop.
type PlaybackConfig struct {
	// JitterCapacity bounds the decoded frame queue. Default 20.
	JitterCapacity int

	// Preroll is waited after the sink starts, before the first write.
	// Default 300ms.
	Preroll time.Duration

	// Batch is the number of frames taken from the jitter buffer per pass.
	// Default 3.
	Batch int

	// Idle is slept when the jitter buffer is empty. Default 10ms.
	Idle time.Duration

	// HighWater is the fraction of sink capacity above which the sink
	// backlog is cleared. Default 0.8.
	HighWater float64

	// Format is the PCM format the decoder produces. Default 24kHz mono.
	Format audio.Format
}

// ReconnectConfig enables automatic reconnection after the connection drops.
type ReconnectConfig struct {
	Enabled    bool
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// deviceRetry is the wait before re-initialising a playback device that
// failed to start.
const deviceRetry = 500 * time.Millisecond

// App owns all subsystem lifetimes and runs the voice pipelines.
type App struct {
	dialer   transport.Dialer
	capture  audio.CaptureSource
	sink     audio.PlaybackSink
	encoder  Encoder
	decoder  Decoder
	machine  *session.Machine
	jitter   *jitter.Buffer
	metrics  *observe.Metrics
	recon    *session.Reconnector
	volume   func() int

	// Options collected before the machine is built.
	mode             session.Mode
	bridge           iot.Bridge
	hello            *protocol.ClientHello
	handshakeTimeout time.Duration
	shutdownTimeout  time.Duration
	wakePhrase       string
	play             PlaybackConfig
	reconnect        ReconnectConfig

	connMu sync.RWMutex
	conn   transport.Conn
	conns  chan transport.Conn

	group    *errgroup.Group
	playOnce sync.Once
	running  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithMode sets the initial turn-taking mode. Default [session.ModeAuto].
func WithMode(m session.Mode) Option {
	return func(a *App) { a.mode = m }
}

// WithBridge exposes device controls to the assistant.
func WithBridge(b iot.Bridge) Option {
	return func(a *App) { a.bridge = b }
}

// WithClientHello overrides the handshake message.
func WithClientHello(h protocol.ClientHello) Option {
	return func(a *App) { a.hello = &h }
}

// WithHandshakeTimeout bounds the wait for the server hello. Default 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *App) { a.handshakeTimeout = d }
}

// WithShutdownTimeout bounds how long Shutdown waits for the loops.
// Default 2s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// WithWakePhrase reports phrase as a detected wake word after the first
// successful connect.
func WithWakePhrase(phrase string) Option {
	return func(a *App) { a.wakePhrase = phrase }
}

// WithPlayback tunes the playback loop. Zero fields keep their defaults.
func WithPlayback(p PlaybackConfig) Option {
	return func(a *App) { a.play = p }
}

// WithReconnect enables backoff reconnection.
func WithReconnect(r ReconnectConfig) Option {
	return func(a *App) { a.reconnect = r }
}

// WithVolume sets the playback volume source, in percent. It is read for
// every frame so changes apply immediately.
func WithVolume(f func() int) Option {
	return func(a *App) { a.volume = f }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New assembles an App. It does not touch the network or the devices; that
// happens in Run.
func New(deps Deps, opts ...Option) (*App, error) {
	if deps.Dialer == nil || deps.Capture == nil || deps.Playback == nil || deps.Encoder == nil || deps.Decoder == nil {
		return nil, errors.New("app: dialer, capture, playback, encoder and decoder are required")
	}
	a := &App{
		dialer:           deps.Dialer,
		capture:          deps.Capture,
		sink:             deps.Playback,
		encoder:          deps.Encoder,
		decoder:          deps.Decoder,
		mode:             session.ModeAuto,
		handshakeTimeout: 10 * time.Second,
		shutdownTimeout:  2 * time.Second,
		volume:           func() int { return 100 },
		conns:            make(chan transport.Conn, 1),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.play = withPlaybackDefaults(a.play)
	a.jitter = jitter.New(a.play.JitterCapacity)

	mopts := []session.Option{
		session.WithMode(a.mode),
		session.WithConnector(a),
		session.WithMetrics(a.metrics),
	}
	if a.bridge != nil {
		mopts = append(mopts, session.WithBridge(a.bridge))
	}
	if a.hello != nil {
		mopts = append(mopts, session.WithClientHello(*a.hello))
	}
	a.machine = session.NewMachine(a, a, mopts...)

	if a.reconnect.Enabled {
		a.recon = session.NewReconnector(session.ReconnectorConfig{
			Connect:    a.Connect,
			MaxRetries: a.reconnect.MaxRetries,
			Backoff:    a.reconnect.Backoff,
			MaxBackoff: a.reconnect.MaxBackoff,
			Metrics:    a.metrics,
		})
	}
	return a, nil
}

func withPlaybackDefaults(p PlaybackConfig) PlaybackConfig {
	if p.JitterCapacity <= 0 {
		p.JitterCapacity = jitter.DefaultCapacity
	}
	if p.Preroll < 0 {
		p.Preroll = 0
	} else if p.Preroll == 0 {
		p.Preroll = 300 * time.Millisecond
	}
	if p.Batch <= 0 {
		p.Batch = 3
	}
	if p.Idle <= 0 {
		p.Idle = 10 * time.Millisecond
	}
	if p.HighWater <= 0 || p.HighWater > 1 {
		p.HighWater = 0.8
	}
	if p.Format.SampleRate == 0 {
		p.Format = audio.Format{SampleRate: 24000, Channels: 1}
	}
	return p
}

// Machine returns the session state machine. Operator events (engage, wake
// word, mode switches) go through it.
func (a *App) Machine() *session.Machine { return a.machine }

// Ready reports nil when the transport is connected and the session is
// ready, for readiness probes.
func (a *App) Ready(context.Context) error {
	if !a.Connected() {
		return transport.ErrNotConnected
	}
	if st := a.machine.Status(); st.State != session.StateReady {
		return fmt.Errorf("session %s", st.State)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the loops, connects once, and blocks until ctx is cancelled or
// Shutdown is called. A failed first connect is logged, not returned; the
// operator reconnects by engaging.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("app: already running")
	}
	defer close(a.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	a.group = g
	g.Go(func() error { return a.captureLoop(gctx) })
	g.Go(func() error { return a.receiveLoop(gctx) })
	if a.recon != nil {
		g.Go(func() error { return a.recon.Run(gctx) })
	}

	if err := a.Connect(gctx); err != nil {
		slog.Error("app: initial connect failed, engage to retry", "err", err)
	} else if a.wakePhrase != "" {
		if err := a.machine.SendWakeWord(gctx, a.wakePhrase); err != nil {
			slog.Warn("app: send wake phrase", "err", err)
		}
	}

	slog.Info("app running", "mode", a.machine.Status().Session.Mode)
	<-gctx.Done()
	return g.Wait()
}

// ─── Connection ──────────────────────────────────────────────────────────────

// Connect dials a new connection and performs the handshake, replacing any
// previous connection. It returns once the server hello arrives, or with an
// error on dial failure or handshake timeout; on error the new connection is
// closed and the session stays disconnected.
func (a *App) Connect(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()
	log := observe.Logger(ctx)

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := a.machine.BeginConnect(); err != nil {
		return fail(err)
	}
	if old := a.swapConn(nil); old != nil {
		_ = old.Close()
	}

	conn, err := a.dialer.Dial(ctx)
	if err != nil {
		a.machine.HandshakeFailed(err)
		return fail(fmt.Errorf("app: connect: %w", err))
	}
	a.swapConn(conn)

	select {
	case a.conns <- conn:
	case <-ctx.Done():
		a.dropConn(conn)
		a.machine.HandshakeFailed(ctx.Err())
		return fail(ctx.Err())
	}

	if err := a.machine.BeginHandshake(ctx); err != nil {
		a.dropConn(conn)
		return fail(fmt.Errorf("app: handshake: %w", err))
	}
	log.Debug("app: hello sent, waiting for server")

	wctx, cancel := context.WithTimeout(ctx, a.handshakeTimeout)
	defer cancel()
	if err := a.machine.WaitReady(wctx); err != nil {
		a.machine.HandshakeFailed(err)
		a.dropConn(conn)
		return fail(fmt.Errorf("app: handshake: %w", err))
	}
	log.Info("app: connected", "session_id", a.machine.Status().Session.ID)
	return nil
}

// Reconnect implements [session.Connector].
func (a *App) Reconnect(ctx context.Context) error { return a.Connect(ctx) }

func (a *App) swapConn(c transport.Conn) transport.Conn {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	old := a.conn
	a.conn = c
	return old
}

func (a *App) currentConn() transport.Conn {
	a.connMu.RLock()
	defer a.connMu.RUnlock()
	return a.conn
}

// dropConn closes c and forgets it if it is still current.
func (a *App) dropConn(c transport.Conn) {
	a.connMu.Lock()
	if a.conn == c {
		a.conn = nil
	}
	a.connMu.Unlock()
	_ = c.Close()
}

// SendText implements [session.Link].
func (a *App) SendText(ctx context.Context, data []byte) error {
	c := a.currentConn()
	if c == nil {
		return transport.ErrNotConnected
	}
	return c.SendText(ctx, data)
}

// Connected implements [session.Link].
func (a *App) Connected() bool {
	c := a.currentConn()
	return c != nil && c.Connected()
}

// StartRecording implements [session.Recorder].
func (a *App) StartRecording() error { return a.capture.Start() }

// StopRecording implements [session.Recorder].
func (a *App) StopRecording() error { return a.capture.Stop() }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the loops, waits up to the shutdown timeout for them,
// closes the connection and ends the session, then stops and closes
// capture and playback.
// Each step tolerates components that were never started. Calling it more
// than once is a no-op.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")
		close(a.stop)
		if a.recon != nil {
			a.recon.Stop()
		}
		if a.running.Load() {
			select {
			case <-a.done:
			case <-time.After(a.shutdownTimeout):
				slog.Warn("app: loops did not stop in time", "timeout", a.shutdownTimeout)
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded")
			}
		}

		var errs []error
		if c := a.swapConn(nil); c != nil {
			if e := c.Close(); e != nil {
				errs = append(errs, fmt.Errorf("app: close connection: %w", e))
			}
		}
		a.machine.OnDisconnected(nil)
		if e := a.capture.Stop(); e != nil {
			errs = append(errs, fmt.Errorf("app: stop capture: %w", e))
		}
		if e := a.capture.Close(); e != nil {
			errs = append(errs, fmt.Errorf("app: close capture: %w", e))
		}
		a.sink.Clear()
		if e := a.sink.Close(); e != nil {
			errs = append(errs, fmt.Errorf("app: close playback: %w", e))
		}
		err = errors.Join(errs...)
	})
	return err
}
