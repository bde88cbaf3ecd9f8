package handlers

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go/attribute"

	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/observability"
	"github.com/printshopapp/printshop/internal/printful"
	"github.com/printshopapp/printshop/internal/services"
)

const fulfillmentWebhookSource = "printful"

// FulfillmentWebhook handles POST /fulfillment-webhook. Printful carries no
// event id, so redeliveries rely on the fulfillment ratchet alone.
func (h *Handlers) FulfillmentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	payload, err := readWebhookBody(w, r)
	if err != nil {
		writeWebhookError(w, logger, fulfillmentWebhookSource, err)
		return
	}

	signature := r.Header.Get(printful.SignatureHeader)
	if err := printful.ValidateSignature(payload, signature, h.config.PrintfulWebhookSecret); err != nil {
		writeWebhookError(w, logger, fulfillmentWebhookSource, fmt.Errorf("%w: %w", services.ErrWebhookSignature, err))
		return
	}

	event, err := printful.ParseWebhookEvent(payload)
	if err != nil {
		writeWebhookError(w, logger, fulfillmentWebhookSource, fmt.Errorf("%w: %w", services.ErrValidation, err))
		return
	}
	ctx, logger = logging.With(ctx, h.logger, "event_type", event.Type, "provider_order_id", event.Data.Order.ID.String())

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(
		attribute.String("webhook.provider", fulfillmentWebhookSource),
		attribute.String("webhook.event_type", event.Type),
	)
	meter.Count("webhook.router.received", 1)

	if event.Type != printful.EventPackageShipped {
		logger.Info("unhandled Printful event type")
		meter.Count("webhook.router.unhandled", 1)
		writeWebhookAck(w, logger, services.OutcomeIgnored)
		return
	}

	outcome, err := h.webhooks.HandlePackageShipped(ctx, services.ShipmentEvent{
		ExternalReference: event.Data.Order.ID.String(),
		ExternalID:        event.Data.Order.ExternalID,
		Carrier:           event.Data.Shipment.Carrier,
		TrackingNumber:    event.Data.Shipment.TrackingNumber,
		TrackingURL:       event.Data.Shipment.TrackingURL,
	})
	if err != nil {
		observability.CountFailure(meter, "webhook.router.failed", "package_shipped_failed")
		writeWebhookError(w, logger, fulfillmentWebhookSource, err)
		return
	}

	observability.CountOutcome(meter, "webhook.router.processed", string(outcome))
	writeWebhookAck(w, logger, outcome)
}
