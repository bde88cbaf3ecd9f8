package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/services"
	paymentgateway "github.com/printshopapp/printshop/internal/stripe"
)

const stripeWebhookSource = "stripe"

// PaymentWebhook handles POST /payment-webhook. The Stripe signature is
// verified against the raw body before anything is decoded.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	payload, err := readWebhookBody(w, r)
	if err != nil {
		writeWebhookError(w, logger, stripeWebhookSource, err)
		return
	}

	event, err := paymentgateway.VerifyEvent(payload, r.Header.Get(paymentgateway.SignatureHeader), h.config.StripeWebhookSecret)
	switch {
	case errors.Is(err, paymentgateway.ErrInvalidSignature):
		writeWebhookError(w, logger, stripeWebhookSource, fmt.Errorf("%w: %w", services.ErrWebhookSignature, err))
		return
	case err != nil:
		writeWebhookError(w, logger, stripeWebhookSource, fmt.Errorf("%w: %w", services.ErrValidation, err))
		return
	}
	ctx, logger = logging.With(ctx, h.logger, "event_id", event.ID, "event_type", event.Type)

	outcome, err := h.processOnce(ctx, logger, stripeWebhookSource, event.ID, func(ctx context.Context) (services.Outcome, error) {
		return h.stripeRouter.Handle(ctx, event)
	})
	if err != nil {
		writeWebhookError(w, logger, stripeWebhookSource, err)
		return
	}
	writeWebhookAck(w, logger, outcome)
}
