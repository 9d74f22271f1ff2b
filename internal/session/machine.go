// Package session implements the client side of the voice session protocol.
//
// [Machine] owns the session state (connection phase, server session id,
// listen/speak states, auto or manual turn-taking) and is the only place it
// changes. Inbound control messages, operator engage events, and connection
// lifecycle notifications all enter through Machine methods, which run one at
// a time under a single lock. The capture path only reads an atomic mirror of
// the listen state and never waits on that lock.
//
// [Reconnector] optionally re-establishes a dropped connection with bounded
// exponential backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/iot"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
)

// defaultSendTimeout bounds each control message write. Writes happen under
// the machine lock, so a stalled socket must not hold it indefinitely.
const defaultSendTimeout = 5 * time.Second

// Errors returned by Machine operations.
var (
	// ErrUnexpected marks a well-formed message that is not valid in the
	// current state.
	ErrUnexpected = errors.New("session: unexpected message")

	// ErrNotReady is returned by operations that need a live session.
	ErrNotReady = errors.New("session: no live session")

	// ErrHandshakeInProgress is returned by BeginConnect while a previous
	// connect has not finished.
	ErrHandshakeInProgress = errors.New("session: handshake in progress")
)

// State is the connection phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateReady
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ListenState is whether captured audio is streamed to the server.
type ListenState int

const (
	ListenStopped ListenState = iota
	Listening
)

func (l ListenState) String() string {
	if l == Listening {
		return "listening"
	}
	return "stopped"
}

// SpeakState tracks the assistant's speech.
type SpeakState int

const (
	SpeakIdle SpeakState = iota
	Speaking
	SentenceBoundary
)

func (s SpeakState) String() string {
	switch s {
	case Speaking:
		return "speaking"
	case SentenceBoundary:
		return "sentence_boundary"
	default:
		return "idle"
	}
}

// Mode selects how listening turns are started.
type Mode string

const (
	// ModeAuto resumes listening whenever the assistant stops speaking.
	ModeAuto Mode = "auto"

	// ModeManual listens only while the operator engages.
	ModeManual Mode = "manual"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool { return m == ModeAuto || m == ModeManual }

func (m Mode) listenMode() protocol.ListenMode {
	if m == ModeManual {
		return protocol.ModeManual
	}
	return protocol.ModeAuto
}

// Session is the server session as seen by the client.
type Session struct {
	ID     string
	Listen ListenState
	Speak  SpeakState
	Mode   Mode
}

// Status is a point-in-time copy of the machine.
type Status struct {
	State   State
	Session Session
}

// Link is the outbound control channel.
type Link interface {
	SendText(ctx context.Context, data []byte) error
	Connected() bool
}

// Recorder starts and pauses audio capture.
type Recorder interface {
	StartRecording() error
	StopRecording() error
}

// Connector re-establishes the connection and handshake.
type Connector interface {
	Reconnect(ctx context.Context) error
}

// Machine is the session state machine. It is safe for concurrent use.
type Machine struct {
	link      Link
	rec       Recorder
	bridge    iot.Bridge
	connector Connector
	metrics   *observe.Metrics
	hello     protocol.ClientHello

	sendTimeout time.Duration

	mu             sync.Mutex
	state          State
	sess           Session
	ready          chan struct{}
	handshakeStart time.Time

	listening atomic.Bool
}

// Option is a functional option for [NewMachine].
type Option func(*Machine)

// WithMode sets the initial turn-taking mode. Default [ModeAuto].
func WithMode(m Mode) Option {
	return func(mc *Machine) { mc.sess.Mode = m }
}

// WithBridge exposes device controls through b.
func WithBridge(b iot.Bridge) Option {
	return func(mc *Machine) { mc.bridge = b }
}

// WithConnector sets what EngageStart uses to re-establish a dead session.
func WithConnector(c Connector) Option {
	return func(mc *Machine) { mc.connector = c }
}

// WithClientHello overrides the handshake message.
func WithClientHello(h protocol.ClientHello) Option {
	return func(mc *Machine) { mc.hello = h }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mc *Machine) { mc.metrics = m }
}

// WithSendTimeout bounds each outbound control message. Default 5s.
func WithSendTimeout(d time.Duration) Option {
	return func(mc *Machine) {
		if d > 0 {
			mc.sendTimeout = d
		}
	}
}

// NewMachine returns a disconnected machine sending through link and
// controlling capture through rec.
func NewMachine(link Link, rec Recorder, opts ...Option) *Machine {
	m := &Machine{
		link:  link,
		rec:   rec,
		hello: protocol.NewClientHello(1, 16000, 1, 60),
		sess:  Session{Mode: ModeAuto},
		ready: make(chan struct{}),

		sendTimeout: defaultSendTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Status returns a copy of the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Session: m.sess}
}

// Listening reports whether captured audio should be sent. It does not take
// the machine lock.
func (m *Machine) Listening() bool { return m.listening.Load() }

// WaitReady blocks until the handshake in progress completes or ctx ends.
func (m *Machine) WaitReady(ctx context.Context) error {
	m.mu.Lock()
	ready := m.ready
	m.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Connection lifecycle ─────────────────────────────────────────────────────

// BeginConnect moves to Connecting. A ready session being replaced is reset
// first.
func (m *Machine) BeginConnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateConnecting, StateAwaitingHello:
		return ErrHandshakeInProgress
	case StateReady:
		m.resetLocked()
	}
	m.ready = make(chan struct{})
	m.setStateLocked(StateConnecting)
	return nil
}

// BeginHandshake sends the client hello and moves to AwaitingHello. On send
// failure the machine returns to Disconnected.
func (m *Machine) BeginHandshake(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return fmt.Errorf("session: begin handshake in state %s", m.state)
	}
	m.setStateLocked(StateAwaitingHello)
	m.handshakeStart = time.Now()
	if err := m.sendLocked(ctx, protocol.TypeHello, m.hello); err != nil {
		m.setStateLocked(StateDisconnected)
		return err
	}
	return nil
}

// HandshakeFailed abandons a connect attempt.
func (m *Machine) HandshakeFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting && m.state != StateAwaitingHello {
		return
	}
	slog.Warn("session: handshake failed", "state", m.state, "err", err)
	m.setStateLocked(StateDisconnected)
}

// OnDisconnected resets the session after the connection ended.
func (m *Machine) OnDisconnected(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisconnected && m.sess.ID == "" {
		return
	}
	if err != nil {
		slog.Warn("session: connection lost", "session_id", m.sess.ID, "err", err)
	} else {
		slog.Info("session: connection closed", "session_id", m.sess.ID)
	}
	m.resetLocked()
	m.setStateLocked(StateDisconnected)
}

// ── Inbound messages ─────────────────────────────────────────────────────────

// HandleText applies one inbound control message. Malformed or unexpected
// messages are logged and returned as errors; they never change state.
func (m *Machine) HandleText(ctx context.Context, data []byte) error {
	msg, err := protocol.Parse(data)
	if err != nil {
		m.reject(ctx, err, "parse")
		return err
	}
	m.metrics.RecordControlMessage(ctx, "in", string(msg.Type()))

	m.mu.Lock()
	defer m.mu.Unlock()

	switch v := msg.(type) {
	case protocol.Hello:
		err = m.onHelloLocked(ctx, v)
	case protocol.TTS:
		err = m.onTTSLocked(ctx, v)
	case protocol.Goodbye:
		err = m.onGoodbyeLocked()
	case protocol.IoT:
		err = m.onIoTLocked(ctx, v)
	case protocol.STT:
		slog.Info("session: heard", "text", v.Text)
	case protocol.LLM:
		slog.Info("session: assistant", "emotion", v.Emotion, "text", v.Text)
	case protocol.Listen, protocol.Abort:
		slog.Debug("session: ignoring server message", "type", msg.Type())
	}
	if err != nil {
		m.reject(ctx, err, string(msg.Type()))
	}
	return err
}

func (m *Machine) onHelloLocked(ctx context.Context, h protocol.Hello) error {
	if m.state != StateAwaitingHello {
		return fmt.Errorf("%w: hello in state %s", ErrUnexpected, m.state)
	}
	if h.SessionID == "" {
		return fmt.Errorf("%w: hello without session_id", protocol.ErrMalformed)
	}

	m.sess.ID = h.SessionID
	m.sess.Speak = SpeakIdle
	m.setStateLocked(StateReady)
	close(m.ready)
	m.metrics.HandshakeDuration.Record(ctx, time.Since(m.handshakeStart).Seconds())
	slog.Info("session: ready", "session_id", h.SessionID, "mode", m.sess.Mode)

	if m.bridge != nil {
		desc, err := m.bridge.Register(h.SessionID)
		if err != nil {
			slog.Warn("session: register devices", "err", err)
		} else if err := m.sendRawLocked(ctx, protocol.TypeIoT, desc); err != nil {
			slog.Warn("session: send device descriptors", "err", err)
		}
	}
	if m.sess.Mode == ModeAuto {
		m.startListeningLocked(ctx)
	}
	return nil
}

func (m *Machine) onTTSLocked(ctx context.Context, t protocol.TTS) error {
	if m.state != StateReady {
		return fmt.Errorf("%w: tts %s in state %s", ErrUnexpected, t.State, m.state)
	}
	switch t.State {
	case protocol.TTSStart:
		m.sess.Speak = Speaking
		m.setListenLocked(ListenStopped)
	case protocol.TTSSentenceStart:
		m.sess.Speak = SentenceBoundary
		m.setListenLocked(ListenStopped)
		m.stopRecordingLocked()
		if t.Text != "" {
			slog.Info("session: assistant", "text", t.Text)
		}
	case protocol.TTSSentenceEnd:
	case protocol.TTSStop:
		m.sess.Speak = SpeakIdle
		if m.sess.Mode == ModeAuto {
			m.startListeningLocked(ctx)
		}
	default:
		return fmt.Errorf("%w: tts state %q", protocol.ErrMalformed, t.State)
	}
	return nil
}

func (m *Machine) onGoodbyeLocked() error {
	if m.state == StateDisconnected {
		return fmt.Errorf("%w: goodbye without session", ErrUnexpected)
	}
	slog.Info("session: server said goodbye", "session_id", m.sess.ID)
	m.resetLocked()
	m.setStateLocked(StateDisconnected)
	return nil
}

func (m *Machine) onIoTLocked(ctx context.Context, msg protocol.IoT) error {
	if m.state != StateReady {
		return fmt.Errorf("%w: iot in state %s", ErrUnexpected, m.state)
	}
	if len(msg.Commands) == 0 {
		return fmt.Errorf("%w: iot without commands", protocol.ErrMalformed)
	}
	if m.bridge == nil {
		return fmt.Errorf("%w: no device bridge", ErrUnexpected)
	}

	for _, cmd := range msg.Commands {
		if _, err := m.bridge.Invoke(cmd); err != nil {
			m.metrics.RecordCommand(ctx, "error")
			slog.Warn("session: device command failed", "command", string(cmd), "err", err)
			continue
		}
		m.metrics.RecordCommand(ctx, "ok")
	}

	states, err := m.bridge.Snapshot(m.sess.ID)
	if err != nil {
		slog.Warn("session: device snapshot", "err", err)
		return nil
	}
	if err := m.sendRawLocked(ctx, protocol.TypeIoT, states); err != nil {
		slog.Warn("session: send device states", "err", err)
	}
	return nil
}

// ── Operator events ──────────────────────────────────────────────────────────

// EngageStart handles the operator starting a turn (button press). Without
// a live session it reconnects and returns. Otherwise it interrupts any
// assistant speech and, in manual mode, starts listening.
func (m *Machine) EngageStart(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.state == StateConnecting || m.state == StateAwaitingHello:
		m.mu.Unlock()
		return ErrHandshakeInProgress
	case m.state != StateReady || !m.link.Connected():
		m.mu.Unlock()
		if m.connector == nil {
			return ErrNotReady
		}
		slog.Info("session: no live session, reconnecting")
		return m.connector.Reconnect(ctx)
	}
	defer m.mu.Unlock()

	if m.sess.Speak == Speaking || m.sess.Speak == SentenceBoundary {
		if err := m.sendLocked(ctx, protocol.TypeAbort, protocol.NewAbort("")); err != nil {
			return err
		}
		m.sess.Speak = SpeakIdle
	}
	if m.sess.Mode == ModeManual {
		m.startListeningLocked(ctx)
	}
	return nil
}

// EngageEnd handles the operator ending a turn (button release). It only
// acts in manual mode with a live session.
func (m *Machine) EngageEnd(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Mode != ModeManual || m.state != StateReady || !m.link.Connected() {
		return nil
	}
	err := m.sendLocked(ctx, protocol.TypeListen, protocol.NewListenStop(m.sess.ID))
	m.setListenLocked(ListenStopped)
	m.stopRecordingLocked()
	return err
}

// SendWakeWord reports a locally detected wake phrase.
func (m *Machine) SendWakeWord(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return ErrNotReady
	}
	return m.sendLocked(ctx, protocol.TypeListen, protocol.NewDetect(m.sess.ID, text))
}

// SetMode switches turn-taking mode. Switching to manual ends an automatic
// listening turn; switching to auto starts one if the assistant is silent.
func (m *Machine) SetMode(ctx context.Context, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !mode.IsValid() || mode == m.sess.Mode {
		return
	}
	slog.Info("session: mode changed", "from", m.sess.Mode, "to", mode)
	m.sess.Mode = mode
	if m.state != StateReady {
		return
	}
	switch {
	case mode == ModeManual && m.sess.Listen == Listening:
		if err := m.sendLocked(ctx, protocol.TypeListen, protocol.NewListenStop(m.sess.ID)); err != nil {
			slog.Warn("session: stop listening", "err", err)
		}
		m.setListenLocked(ListenStopped)
		m.stopRecordingLocked()
	case mode == ModeAuto && m.sess.Speak == SpeakIdle:
		m.startListeningLocked(ctx)
	}
}

// ── Helpers (m.mu held) ──────────────────────────────────────────────────────

// startListeningLocked requests a listening turn in the current mode and
// starts capture once the request is sent.
func (m *Machine) startListeningLocked(ctx context.Context) {
	if m.sess.ID == "" || !m.link.Connected() {
		return
	}
	req := protocol.NewListenStart(m.sess.ID, m.sess.Mode.listenMode())
	if err := m.sendLocked(ctx, protocol.TypeListen, req); err != nil {
		slog.Warn("session: start listening", "err", err)
		return
	}
	m.setListenLocked(Listening)
	if err := m.rec.StartRecording(); err != nil {
		m.metrics.RecordDeviceError(ctx, "capture")
		slog.Error("session: start recording", "err", err)
	}
}

func (m *Machine) stopRecordingLocked() {
	if err := m.rec.StopRecording(); err != nil {
		slog.Warn("session: stop recording", "err", err)
	}
}

func (m *Machine) setListenLocked(l ListenState) {
	m.sess.Listen = l
	m.listening.Store(l == Listening)
}

// resetLocked clears the server session and pauses capture.
func (m *Machine) resetLocked() {
	m.sess.ID = ""
	m.sess.Speak = SpeakIdle
	m.setListenLocked(ListenStopped)
	m.stopRecordingLocked()
}

func (m *Machine) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	ctx := context.Background()
	m.metrics.RecordTransition(ctx, from.String(), to.String())
	switch {
	case to == StateReady:
		m.metrics.ActiveSessions.Add(ctx, 1)
	case from == StateReady:
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Debug("session: state", "from", from, "to", to)
}

func (m *Machine) sendLocked(ctx context.Context, typ protocol.Type, v any) error {
	data, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	return m.sendRawLocked(ctx, typ, data)
}

func (m *Machine) sendRawLocked(ctx context.Context, typ protocol.Type, data []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	if err := m.link.SendText(sendCtx, data); err != nil {
		return fmt.Errorf("session: send %s: %w", typ, err)
	}
	m.metrics.RecordControlMessage(ctx, "out", string(typ))
	return nil
}

// reject logs and counts a rejected inbound message.
func (m *Machine) reject(ctx context.Context, err error, kind string) {
	m.metrics.RecordProtocolError(ctx, kind)
	slog.Warn("session: rejected message", "kind", kind, "err", err)
}
