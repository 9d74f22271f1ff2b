package observe

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Readiness as last served on /readyz.
const (
	readinessUnknown int32 = iota
	readinessReady
	readinessNotReady
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// endpoint maps a request path to a bounded metric label.
func endpoint(path string) string {
	switch path {
	case "/healthz":
		return "healthz"
	case "/readyz":
		return "readyz"
	case "/metrics":
		return "metrics"
	default:
		return "other"
	}
}

// Instrument wraps the health side channel. Every request is timed into
// [Metrics.HealthRequestDuration] by endpoint and outcome and logged at
// debug level. When the readiness answer flips, that is logged at info.
func Instrument(m *Metrics) func(http.Handler) http.Handler {
	var readiness atomic.Int32

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			ep := endpoint(r.URL.Path)
			outcome := "ok"
			if sw.status >= http.StatusBadRequest {
				outcome = "fail"
			}
			m.HealthRequestDuration.Record(r.Context(), elapsed.Seconds(),
				metric.WithAttributes(Attr("endpoint", ep), Attr("outcome", outcome)))

			if ep == "readyz" {
				now := readinessReady
				if outcome == "fail" {
					now = readinessNotReady
				}
				if prev := readiness.Swap(now); prev != now {
					slog.Info("observe: readiness changed", "ready", now == readinessReady, "status", sw.status)
				}
			}
			slog.Debug("observe: health request",
				"endpoint", ep,
				"status", sw.status,
				"duration", elapsed,
			)
		})
	}
}
