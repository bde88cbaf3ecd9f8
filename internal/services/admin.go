package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/observability"
)

// AdminService holds operator overrides on orders and their fulfillment.
type AdminService struct {
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
}

func NewAdminService(ledger Ledger, notifier Notifier, logger *slog.Logger) *AdminService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &AdminService{
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *AdminService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type AdminOrderFilter struct {
	Status  string
	OwnerID int64
	Limit   int
}

// ListOrders returns all orders. Status accepts "open", "closed" or a
// single concrete status.
func (s *AdminService) ListOrders(ctx context.Context, filter AdminOrderFilter) ([]*models.Order, error) {
	statuses, err := parseStatusFilter(filter.Status, true)
	if err != nil {
		return nil, err
	}
	if filter.OwnerID < 0 {
		return nil, &ValidationError{Fields: map[string]string{"owner_id": "must be positive"}}
	}
	orders, err := s.ledger.ListOrders(ctx, models.OrderFilter{
		OwnerID:  filter.OwnerID,
		Statuses: statuses,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, classifyStoreError("list orders", err)
	}
	return orders, nil
}

type FulfillmentUpdateInput struct {
	Status         models.FulfillmentStatus
	Carrier        string
	TrackingNumber string
	TrackingURL    string
}

// UpdateFulfillment forces the fulfillment forward, or re-applies the current
// status to correct tracking details. The order status follows a shipped or
// delivered fulfillment.
func (s *AdminService) UpdateFulfillment(ctx context.Context, id uuid.UUID, input FulfillmentUpdateInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.admin.update_fulfillment",
		sentry.WithOpName("service.admin"),
		sentry.WithDescription("UpdateFulfillment"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", id)
	meter := observability.MeterFromContext(ctx)
	meter.Count("fulfillment.update.received", 1)
	recordFailed := func(reason string) {
		meter.Count("fulfillment.update.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	if !input.Status.Valid() {
		recordFailed("invalid_status")
		return nil, &ValidationError{Fields: map[string]string{"fulfillment_status": "must be unfulfilled, processing, shipped or delivered"}}
	}

	result, err := advanceShipment(ctx, s.ledger, id, shipmentChange{
		from:           input.Status.AtOrBefore(),
		to:             input.Status,
		carrier:        strings.TrimSpace(input.Carrier),
		trackingNumber: strings.TrimSpace(input.TrackingNumber),
		trackingURL:    strings.TrimSpace(input.TrackingURL),
	})
	if err != nil {
		if errors.Is(err, errNoFulfillment) {
			recordFailed("missing_fulfillment")
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		if errors.Is(err, errOrderClosed) {
			recordFailed("order_closed")
			return nil, err
		}
		recordFailed("update_failed")
		return nil, classifyStoreError("update fulfillment", err)
	}
	if !result.matched {
		recordFailed("regression")
		return nil, fmt.Errorf("%w: fulfillment is already %s", ErrConflict, result.order.Fulfillment.Status)
	}

	action := "update_details"
	if result.advanced {
		action = "advance"
		if err := notifyShipment(ctx, s.notifier, result.order, input.Status); err != nil {
			meter.Count("fulfillment.update.side_effect_failed", 1, sentry.WithAttributes(
				attribute.String("reason", "notification_failed"),
			))
			logger.Error("failed to send shipment notification", "error", err)
		}
	}
	meter.Count("fulfillment.update.processed", 1, sentry.WithAttributes(
		attribute.String("action", action),
	))
	logger.Info("fulfillment updated by admin", "fulfillment_status", input.Status, "order_status", result.order.Status, "action", action)
	return result.order, nil
}

// Cancel cancels any order whose shipment is still unfulfilled.
func (s *AdminService) Cancel(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := cancelOrder(ctx, s.ledger, id, func(*models.Order) error { return nil })
	if err != nil {
		return nil, err
	}
	observability.MeterFromContext(ctx).Count("order.cancelled", 1, sentry.WithAttributes(
		attribute.String("actor", "admin"),
	))
	s.loggerFromContext(ctx).Info("order cancelled by admin", "order_id", id)
	return order, nil
}

// Refund marks an unshipped order refunded. Money movement happens in the
// payment processor dashboard.
func (s *AdminService) Refund(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var refunded *models.Order
	err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if _, err := models.TransitionRefund.Apply(order.Status); err != nil {
			return err
		}
		applied, err := tx.TransitionOrder(ctx, id, models.TransitionRefund)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order %s changed status concurrently", ErrConflict, id)
		}
		order.Status = models.StatusRefunded
		refunded = order
		return nil
	})
	if err != nil {
		return nil, classifyStoreError("refund order", err)
	}
	s.loggerFromContext(ctx).Info("order refunded by admin", "order_id", id)
	return refunded, nil
}

// Delete removes an order and everything attached to it.
func (s *AdminService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		return tx.DeleteOrder(ctx, id)
	}); err != nil {
		return classifyStoreError("delete order", err)
	}
	s.loggerFromContext(ctx).Warn("order deleted by admin", "order_id", id)
	return nil
}
