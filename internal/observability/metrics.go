// Package observability holds the Sentry metrics and tracing plumbing shared
// by handlers, services and outbound HTTP clients.
package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
)

type meterKey struct{}

// WithMeter returns a context carrying meter. A nil meter is replaced with
// one bound to ctx.
func WithMeter(ctx context.Context, meter sentry.Meter) context.Context {
	if meter == nil {
		meter = sentry.NewMeter(ctx)
	}
	return context.WithValue(ctx, meterKey{}, meter.WithCtx(ctx))
}

// MeterFromContext returns the request-scoped meter, or a fresh one when
// the context carries none, e.g. in the fulfillment retry loop.
func MeterFromContext(ctx context.Context) sentry.Meter {
	if meter, ok := ctx.Value(meterKey{}).(sentry.Meter); ok && meter != nil {
		return meter.WithCtx(ctx)
	}
	return sentry.NewMeter(ctx).WithCtx(ctx)
}

// CountFailure increments name with a reason attribute.
func CountFailure(meter sentry.Meter, name, reason string) {
	meter.Count(name, 1, sentry.WithAttributes(attribute.String("reason", reason)))
}

// CountOutcome increments name with an outcome attribute.
func CountOutcome(meter sentry.Meter, name, outcome string) {
	meter.Count(name, 1, sentry.WithAttributes(attribute.String("outcome", outcome)))
}
