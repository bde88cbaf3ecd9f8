package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/printshopapp/printshop/internal/logging"
)

// statusRecorder remembers the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusRecorder) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// RequestLogger tags the request with an id, stores a request-scoped logger
// in the context and logs the outcome once the handler returns.
func (h *Handlers) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		meta := requestMetaFor(r)
		w.Header().Set(requestIDHeader, meta.ID)

		logger := h.logger.With(meta.logAttrs()...)
		ctx := logging.WithLogger(withRequestMeta(r.Context(), meta), logger)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.code()
		elapsed := time.Since(start)
		h.recordRequest(r, meta, status, elapsed)

		logger.Log(ctx, completionLevel(meta.Path, status), "request completed",
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"bytes", rec.bytes,
		)
	})
}

func (h *Handlers) recordRequest(r *http.Request, meta requestMeta, status int, elapsed time.Duration) {
	ctx := r.Context()
	meter := sentry.NewMeter(ctx).WithCtx(ctx)
	attrs := sentry.WithAttributes(
		attribute.String("http.method", meta.Method),
		attribute.String("http.route", meta.metricRoute()),
		attribute.Int("http.status_code", status),
	)
	meter.Count("http.server.requests", 1, attrs)
	meter.Distribution(
		"http.server.duration",
		float64(elapsed.Milliseconds()),
		sentry.WithUnit(sentry.UnitMillisecond),
		sentry.WithAttributes(
			attribute.String("http.method", meta.Method),
			attribute.String("http.route", meta.metricRoute()),
			attribute.String("http.status_class", fmt.Sprintf("%dxx", status/100)),
		),
	)
	if status >= http.StatusInternalServerError {
		meter.Count("http.server.errors", 1, attrs)
	}
}

func completionLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case path == "/health":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
