// Package observe provides the client's observability primitives:
// OpenTelemetry metrics for the audio and session pipelines, tracing helpers,
// trace-aware structured logging, and HTTP middleware for the health side
// channel.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping via [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/parley"

// Frame directions and outcomes used with [Metrics.RecordFrame].
const (
	DirectionUp   = "up"
	DirectionDown = "down"

	OutcomeCaptured     = "captured"
	OutcomeSent         = "sent"
	OutcomeNotListening = "dropped_not_listening"
	OutcomeNotConnected = "dropped_not_connected"
	OutcomeSendFailed   = "dropped_send_failed"
	OutcomeReceived     = "received"
	OutcomePlayed       = "played"
)

// Metrics holds every instrument the client records.
// All fields are safe for concurrent use.
type Metrics struct {
	// Frames counts audio frames by direction and outcome.
	Frames metric.Int64Counter

	// CodecErrors counts failed encodes/decodes. Attribute "op".
	CodecErrors metric.Int64Counter

	// JitterEvictions counts frames discarded by the jitter buffer.
	JitterEvictions metric.Int64Counter

	// SinkClears counts playback backlog clears at the high-water mark.
	SinkClears metric.Int64Counter

	// DeviceErrors counts capture/playback device failures. Attribute "device".
	DeviceErrors metric.Int64Counter

	// ControlMessages counts control messages by direction and type.
	ControlMessages metric.Int64Counter

	// ProtocolErrors counts rejected inbound control messages. Attribute "reason".
	ProtocolErrors metric.Int64Counter

	// Commands counts device command invocations. Attribute "status".
	Commands metric.Int64Counter

	// Transitions counts session state transitions. Attributes "from", "to".
	Transitions metric.Int64Counter

	// Reconnects counts reconnection attempts. Attribute "outcome".
	Reconnects metric.Int64Counter

	// HandshakeDuration tracks time from client hello to server hello.
	HandshakeDuration metric.Float64Histogram

	// ActiveSessions is 1 while a session is ready, 0 otherwise.
	ActiveSessions metric.Int64UpDownCounter

	// HealthRequestDuration tracks health side channel latency.
	HealthRequestDuration metric.Float64Histogram
}

var handshakeBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Frames, "parley.audio.frames", "Audio frames by direction and outcome."},
		{&met.CodecErrors, "parley.audio.codec_errors", "Failed Opus encodes and decodes."},
		{&met.JitterEvictions, "parley.audio.jitter_evictions", "Frames evicted from a full jitter buffer."},
		{&met.SinkClears, "parley.audio.sink_clears", "Playback backlog clears at the high-water mark."},
		{&met.DeviceErrors, "parley.audio.device_errors", "Capture and playback device failures."},
		{&met.ControlMessages, "parley.session.control_messages", "Control messages by direction and type."},
		{&met.ProtocolErrors, "parley.session.protocol_errors", "Rejected inbound control messages by reason."},
		{&met.Commands, "parley.iot.commands", "Device command invocations by status."},
		{&met.Transitions, "parley.session.transitions", "Session state transitions."},
		{&met.Reconnects, "parley.session.reconnects", "Reconnection attempts by outcome."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.HandshakeDuration, err = m.Float64Histogram("parley.session.handshake.duration",
		metric.WithDescription("Time from client hello to server hello."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(handshakeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.session.active",
		metric.WithDescription("Whether a session is ready."),
	); err != nil {
		return nil, err
	}
	if met.HealthRequestDuration, err = m.Float64Histogram("parley.health.request.duration",
		metric.WithDescription("Health endpoint latency by endpoint and outcome."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one audio frame.
func (m *Metrics) RecordFrame(ctx context.Context, direction, outcome string) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(Attr("direction", direction), Attr("outcome", outcome)))
}

// RecordCodecError counts a failed "encode" or "decode".
func (m *Metrics) RecordCodecError(ctx context.Context, op string) {
	m.CodecErrors.Add(ctx, 1, metric.WithAttributes(Attr("op", op)))
}

// RecordDeviceError counts a "capture" or "playback" device failure.
func (m *Metrics) RecordDeviceError(ctx context.Context, device string) {
	m.DeviceErrors.Add(ctx, 1, metric.WithAttributes(Attr("device", device)))
}

// RecordControlMessage counts a control message of typ travelling in
// direction ("in" or "out").
func (m *Metrics) RecordControlMessage(ctx context.Context, direction, typ string) {
	m.ControlMessages.Add(ctx, 1, metric.WithAttributes(Attr("direction", direction), Attr("type", typ)))
}

// RecordProtocolError counts a rejected inbound message.
func (m *Metrics) RecordProtocolError(ctx context.Context, reason string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordCommand counts a device command with status "ok" or "error".
func (m *Metrics) RecordCommand(ctx context.Context, status string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordTransition counts a state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordReconnect counts a reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}
