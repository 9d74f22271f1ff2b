package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	exp := installTracer(t)

	_, span := StartSpan(context.Background(), "session.connect")
	a := span.SpanContext().TraceID().String()
	span.End()
	_, span2 := StartSpan(context.Background(), "session.connect")
	b := span2.SpanContext().TraceID().String()
	span2.End()

	if len(a) != 32 || a == b {
		t.Errorf("trace ids %q, %q: want two distinct 32-char ids", a, b)
	}
	spans := exp.GetSpans()
	if len(spans) != 2 || spans[0].Name != "session.connect" {
		t.Fatalf("spans = %v", spans.Snapshots())
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

// installTracer routes spans to an in-memory exporter for the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestLogger(t *testing.T) {
	installTracer(t)
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id without a span: %s", buf.String())
	}

	buf.Reset()
	ctx, span := StartSpan(context.Background(), "dial")
	defer span.End()
	Logger(ctx).Info("traced")
	if !strings.Contains(buf.String(), "trace_id="+span.SpanContext().TraceID().String()) || !strings.Contains(buf.String(), "span_id=") {
		t.Errorf("log line missing trace fields: %s", buf.String())
	}
}
