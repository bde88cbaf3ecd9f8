package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/printshopapp/printshop/internal/services"
)

// readWebhookBody returns the raw, unmodified body for signature checks.
func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: webhook body exceeds %d bytes", services.ErrValidation, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: failed to read webhook body: %v", services.ErrValidation, err)
	}
	return payload, nil
}

// writeWebhookError answers a webhook sender. Only persistence and other
// server-side failures produce a 5xx, which makes the sender redeliver.
func writeWebhookError(w http.ResponseWriter, logger *slog.Logger, source string, err error) {
	status := http.StatusInternalServerError
	message := "processing failed"
	switch {
	case errors.Is(err, services.ErrWebhookSignature):
		status = http.StatusUnauthorized
		message = "invalid signature"
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
		message = "invalid webhook payload"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("failed to process webhook", "source", source, "error", err)
	} else {
		logger.Warn("rejected webhook", "source", source, "status", status, "error", err)
	}
	writeJSON(w, logger, status, errorResponse{Error: message})
}

func writeWebhookAck(w http.ResponseWriter, logger *slog.Logger, outcome services.Outcome) {
	writeJSON(w, logger, http.StatusOK, webhookResponse{Received: true, Outcome: outcome})
}

// processOnce runs process unless source already delivered eventID. The id
// is remembered only after process succeeds, so a failed delivery is
// processed again when the sender retries it.
func (h *Handlers) processOnce(
	ctx context.Context,
	logger *slog.Logger,
	source, eventID string,
	process func(context.Context) (services.Outcome, error),
) (services.Outcome, error) {
	seen, err := h.deduper.Seen(ctx, source, eventID)
	if err != nil {
		logger.Warn("webhook dedupe lookup failed; processing anyway", "error", err)
	}
	if seen {
		logger.Info("webhook already processed")
		return services.OutcomeDuplicate, nil
	}

	outcome, err := process(ctx)
	if err != nil {
		return "", err
	}

	if err := h.deduper.Mark(ctx, source, eventID); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}
	return outcome, nil
}
