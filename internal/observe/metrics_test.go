package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the counter total over data points whose attributes
// include every key/value in match.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name string, match map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	var total int64
outer:
	for _, dp := range sum.DataPoints {
		for k, v := range match {
			got, ok := dp.Attributes.Value(attribute.Key(k))
			if !ok || got.AsString() != v {
				continue outer
			}
		}
		total += dp.Value
	}
	return total
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, DirectionUp, OutcomeSent)
	m.RecordFrame(ctx, DirectionUp, OutcomeSent)
	m.RecordFrame(ctx, DirectionUp, OutcomeNotListening)
	m.RecordFrame(ctx, DirectionDown, OutcomePlayed)
	m.RecordCodecError(ctx, "decode")
	m.RecordDeviceError(ctx, "playback")
	m.RecordControlMessage(ctx, "in", "tts")
	m.RecordProtocolError(ctx, "parse")
	m.RecordCommand(ctx, "ok")
	m.RecordCommand(ctx, "error")
	m.RecordTransition(ctx, "connecting", "awaiting_hello")
	m.RecordReconnect(ctx, "gave_up")
	m.JitterEvictions.Add(ctx, 3)
	m.SinkClears.Add(ctx, 1)

	rm := collect(t, reader)
	tests := []struct {
		name  string
		match map[string]string
		want  int64
	}{
		{"parley.audio.frames", map[string]string{"direction": "up", "outcome": "sent"}, 2},
		{"parley.audio.frames", map[string]string{"direction": "up"}, 3},
		{"parley.audio.frames", map[string]string{"direction": "down", "outcome": "played"}, 1},
		{"parley.audio.codec_errors", map[string]string{"op": "decode"}, 1},
		{"parley.audio.device_errors", map[string]string{"device": "playback"}, 1},
		{"parley.audio.jitter_evictions", nil, 3},
		{"parley.audio.sink_clears", nil, 1},
		{"parley.session.control_messages", map[string]string{"direction": "in", "type": "tts"}, 1},
		{"parley.session.protocol_errors", map[string]string{"reason": "parse"}, 1},
		{"parley.iot.commands", map[string]string{"status": "error"}, 1},
		{"parley.iot.commands", nil, 2},
		{"parley.session.transitions", map[string]string{"from": "connecting", "to": "awaiting_hello"}, 1},
		{"parley.session.reconnects", map[string]string{"outcome": "gave_up"}, 1},
	}
	for _, tt := range tests {
		if got := sumWhere(t, rm, tt.name, tt.match); got != tt.want {
			t.Errorf("%s%v = %d, want %d", tt.name, tt.match, got, tt.want)
		}
	}
}

func TestHandshakeHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.HandshakeDuration.Record(ctx, 0.08)
	m.HandshakeDuration.Record(ctx, 1.5)

	met := findMetric(collect(t, reader), "parley.session.handshake.duration")
	if met == nil {
		t.Fatal("histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %+v", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	if len(dp.Bounds) != len(handshakeBuckets) {
		t.Errorf("bounds = %v, want %v", dp.Bounds, handshakeBuckets)
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1)

	if got := sumWhere(t, collect(t, reader), "parley.session.active", nil); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
