package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go/attribute"

	"github.com/printshopapp/printshop/internal/easypost"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/observability"
	"github.com/printshopapp/printshop/internal/services"
)

const trackingWebhookSource = "easypost"

// TrackingWebhook handles POST /tracking-webhook.
func (h *Handlers) TrackingWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	payload, err := readWebhookBody(w, r)
	if err != nil {
		writeWebhookError(w, logger, trackingWebhookSource, err)
		return
	}

	if err := easypost.ValidateWebhook(payload, r.Header, h.config.EasyPostWebhookSecret); err != nil {
		writeWebhookError(w, logger, trackingWebhookSource, fmt.Errorf("%w: %w", services.ErrWebhookSignature, err))
		return
	}

	event, err := easypost.ParseEvent(payload)
	if err != nil {
		writeWebhookError(w, logger, trackingWebhookSource, fmt.Errorf("%w: %w", services.ErrValidation, err))
		return
	}
	ctx, logger = logging.With(ctx, h.logger, "event_id", event.ID, "event_description", event.Description)

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(
		attribute.String("webhook.provider", trackingWebhookSource),
		attribute.String("webhook.event_type", event.Description),
	)
	meter.Count("webhook.router.received", 1)

	if !event.IsTrackerUpdate() {
		logger.Info("unhandled EasyPost event")
		meter.Count("webhook.router.unhandled", 1)
		writeWebhookAck(w, logger, services.OutcomeIgnored)
		return
	}

	update := services.TrackingEvent{
		TrackingCode: event.Result.TrackingCode,
		Status:       event.Result.Status,
		Carrier:      event.Result.Carrier,
		PublicURL:    event.Result.PublicURL,
	}
	outcome, err := h.processOnce(ctx, logger, trackingWebhookSource, event.ID, func(ctx context.Context) (services.Outcome, error) {
		return h.webhooks.HandleTrackerUpdate(ctx, update)
	})
	if err != nil {
		observability.CountFailure(meter, "webhook.router.failed", "tracker_update_failed")
		writeWebhookError(w, logger, trackingWebhookSource, err)
		return
	}

	observability.CountOutcome(meter, "webhook.router.processed", string(outcome))
	writeWebhookAck(w, logger, outcome)
}
