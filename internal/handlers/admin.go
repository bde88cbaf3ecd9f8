package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/printshopapp/printshop/internal/services"
)

const maxAdminListLimit = 500

// AdminListOrders handles GET /admin/orders?status=&owner_id=&limit=.
func (h *Handlers) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	filter, err := adminFilterFromQuery(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	orders, err := h.admin.ListOrders(ctx, filter)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	writeJSON(w, logger, http.StatusOK, ordersResponse{Orders: orders})
}

func adminFilterFromQuery(r *http.Request) (services.AdminOrderFilter, error) {
	query := r.URL.Query()
	filter := services.AdminOrderFilter{Status: query.Get("status")}
	verr := &services.ValidationError{}

	if raw := strings.TrimSpace(query.Get("owner_id")); raw != "" {
		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ownerID <= 0 {
			verr.Fields = map[string]string{"owner_id": "must be a positive integer"}
		}
		filter.OwnerID = ownerID
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxAdminListLimit {
			if verr.Fields == nil {
				verr.Fields = map[string]string{}
			}
			verr.Fields["limit"] = "must be between 1 and " + strconv.Itoa(maxAdminListLimit)
		}
		filter.Limit = limit
	}

	if len(verr.Fields) > 0 {
		return services.AdminOrderFilter{}, verr
	}
	return filter, nil
}

// AdminUpdateFulfillment handles PUT /admin/orders/{id}/fulfillment.
func (h *Handlers) AdminUpdateFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	var req fulfillmentUpdateRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.admin.UpdateFulfillment(ctx, id, req.toInput())
	if err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("fulfillment updated by admin", "order_id", id, "fulfillment_status", req.FulfillmentStatus)
	writeJSON(w, logger, http.StatusOK, order)
}

func (h *Handlers) AdminCancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.admin.Cancel(ctx, id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("order cancelled by admin", "order_id", id)
	writeJSON(w, logger, http.StatusOK, order)
}

func (h *Handlers) AdminRefundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	order, err := h.admin.Refund(ctx, id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("order refunded by admin", "order_id", id)
	writeJSON(w, logger, http.StatusOK, order)
}

// AdminDeleteOrder removes an order with its line items, payments and
// fulfillment.
func (h *Handlers) AdminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	id, err := orderIDFromRequest(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	if err := h.admin.Delete(ctx, id); err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("order deleted by admin", "order_id", id)
	w.WriteHeader(http.StatusNoContent)
}
