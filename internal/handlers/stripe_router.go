package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/observability"
	"github.com/printshopapp/printshop/internal/services"
	paymentgateway "github.com/printshopapp/printshop/internal/stripe"
)

// StripeEventRouter maps verified Stripe events onto the webhook reconciler.
type StripeEventRouter struct {
	service WebhookReconciler
	logger  *slog.Logger
}

func NewStripeEventRouter(service WebhookReconciler, logger *slog.Logger) *StripeEventRouter {
	return &StripeEventRouter{service: service, logger: logger}
}

// paymentHandler picks the reconciler method for a payment_intent event type.
func (r *StripeEventRouter) paymentHandler(eventType stripeapi.EventType) func(context.Context, services.PaymentEvent) (services.Outcome, error) {
	switch eventType {
	case stripeapi.EventTypePaymentIntentSucceeded:
		return r.service.HandlePaymentSucceeded
	case stripeapi.EventTypePaymentIntentPaymentFailed:
		return r.service.HandlePaymentFailed
	}
	return nil
}

// Handle dispatches a verified Stripe event. Event types without a handler
// are acknowledged as ignored.
func (r *StripeEventRouter) Handle(ctx context.Context, event *stripeapi.Event) (services.Outcome, error) {
	span := sentry.StartSpan(ctx, "handler.stripe_router.handle",
		sentry.WithOpName("handler.stripe_router"),
		sentry.WithDescription("StripeEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)

	if event == nil || event.Data == nil {
		observability.CountFailure(meter, "webhook.router.failed", "missing_event")
		return "", fmt.Errorf("%w: stripe event has no data", services.ErrValidation)
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))
	logger := logging.FromContext(ctx, r.logger).With("event_id", event.ID, "event_type", event.Type)

	ignored := func(msg string) (services.Outcome, error) {
		logger.Info(msg)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return services.OutcomeIgnored, nil
	}

	handle := r.paymentHandler(event.Type)
	if handle == nil {
		return ignored("unhandled Stripe event type")
	}

	payment, err := paymentEventFromStripe(event)
	if err != nil {
		observability.CountFailure(meter, "webhook.router.failed", "malformed_payment_intent")
		return "", err
	}
	if payment.OrderID == uuid.Nil {
		return ignored("payment intent carries no usable order reference; acknowledging")
	}

	outcome, err := handle(ctx, payment)
	if err != nil {
		observability.CountFailure(meter, "webhook.router.failed", strings.ReplaceAll(string(event.Type), ".", "_")+"_failed")
		return "", err
	}

	observability.CountOutcome(meter, "webhook.router.processed", string(outcome))
	span.Status = sentry.SpanStatusOK
	return outcome, nil
}

// paymentEventFromStripe extracts the order reference and amount from a
// payment_intent.* event. An unparseable order_id yields uuid.Nil.
func paymentEventFromStripe(event *stripeapi.Event) (services.PaymentEvent, error) {
	intent, err := paymentgateway.PaymentIntentFromEvent(event)
	if err != nil {
		return services.PaymentEvent{}, fmt.Errorf("%w: %w", services.ErrValidation, err)
	}

	orderID, err := uuid.Parse(strings.TrimSpace(intent.Metadata[paymentgateway.OrderIDMetadataKey]))
	if err != nil {
		orderID = uuid.Nil
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}

	payment := services.PaymentEvent{
		OrderID:       orderID,
		TransactionID: intent.ID,
		Amount:        paymentgateway.FromMinorUnits(amount),
		Currency:      string(intent.Currency),
	}
	if intent.LastPaymentError != nil {
		payment.FailureReason = intent.LastPaymentError.Msg
	}
	return payment, nil
}
