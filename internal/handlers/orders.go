package handlers

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go/attribute"

	"github.com/printshopapp/printshop/internal/auth"
	"github.com/printshopapp/printshop/internal/observability"
	"github.com/printshopapp/printshop/internal/services"
)

// actorFromRequest resolves the verified caller placed in the context by
// auth.Verifier.RequireUser.
func actorFromRequest(r *http.Request) (services.Actor, error) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.UserID <= 0 {
		return services.Actor{}, fmt.Errorf("%w: missing caller identity", services.ErrUnauthorized)
	}

	meter := observability.MeterFromContext(r.Context())
	meter.SetAttributes(attribute.Int64("user.id", claims.UserID))

	return services.Actor{
		UserID: claims.UserID,
		Email:  claims.Email,
		Name:   claims.Username,
		Admin:  claims.Admin,
	}, nil
}

// CreateOrder handles POST /orders.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	var req submitOrderRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.orders.Submit(ctx, actor, req.toInput())
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusCreated, order)
}

// ListOrders handles GET /orders?status=open|closed.
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	orders, err := h.orders.List(ctx, actor, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, ordersResponse{Orders: orders})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.orders.Get(ctx, actor, id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, order)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.orders.Cancel(ctx, actor, id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, order)
}

// CreatePaymentIntent handles POST /orders/{id}/payment-intent and returns
// the client secret the storefront confirms the payment with.
func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	intent, err := h.orders.CreatePaymentIntent(ctx, actor, id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, paymentIntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount.StringFixed(2),
		Currency:        intent.Currency,
	})
}

func (h *Handlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	payments, err := h.orders.ListPayments(ctx, actor, id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, paymentsResponse{Payments: payments})
}

// UpdateShippingAddress handles PUT /orders/{id}/shipping-address. It is
// accepted only until the shipment leaves the unfulfilled state.
func (h *Handlers) UpdateShippingAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	var req shippingAddressRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.orders.UpdateShippingAddress(ctx, actor, id, req.FulfillmentDetails.toModel())
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, order)
}
