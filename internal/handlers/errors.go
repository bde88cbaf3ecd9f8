package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/printshopapp/printshop/internal/services"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// statusForError maps a service error class onto an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrWebhookSignature):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err and writes it as a JSON error body. Server-side
// failures are logged in full and reported to the client generically.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusForError(err)
	body := errorResponse{Error: err.Error()}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body.Error = services.ErrValidation.Error()
		body.Fields = verr.Fields
	}

	switch {
	case status == http.StatusBadGateway:
		logger.Error("external service failed", "error", err)
		body.Error = "upstream service unavailable"
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "error", err)
		body.Error = "internal server error"
	default:
		logger.Info("request rejected", "status", status, "error", err)
	}

	writeJSON(w, logger, status, body)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
