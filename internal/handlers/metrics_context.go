package handlers

import (
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/printshopapp/printshop/internal/observability"
)

// MetricsContext adds a request-scoped, pre-attributed meter to the context.
// The caller's user id is attached later, once the bearer token is verified.
func (h *Handlers) MetricsContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := requestMetaFor(r)
		ctx := withRequestMeta(r.Context(), meta)

		meter := sentry.NewMeter(ctx).WithCtx(ctx)
		meter.SetAttributes(meta.meterAttrs()...)

		next.ServeHTTP(w, r.WithContext(observability.WithMeter(ctx, meter)))
	})
}
