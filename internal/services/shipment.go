package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/models"
)

// shipmentChange is one forward step of the fulfillment ratchet. It only
// applies while the current fulfillment status is in from.
type shipmentChange struct {
	from           []models.FulfillmentStatus
	to             models.FulfillmentStatus
	carrier        string
	trackingNumber string
	trackingURL    string
}

// shipmentResult reports what advanceShipment did.
type shipmentResult struct {
	order *models.Order
	// advanced is set when the fulfillment status moved forward.
	advanced bool
	// matched is set when the change applied at all, including tracking-only edits.
	matched bool
}

var (
	errNoFulfillment = errors.New("order has no fulfillment record")
	// errOrderClosed rejects shipment changes on cancelled or refunded orders.
	errOrderClosed = fmt.Errorf("%w: order was cancelled or refunded", ErrConflict)
)

// advanceShipment applies a fulfillment ratchet step and walks the order
// status forward to match, all under the order row lock. Stale or repeated
// steps match nothing and change nothing.
func advanceShipment(ctx context.Context, ledger Ledger, orderID uuid.UUID, change shipmentChange) (shipmentResult, error) {
	var result shipmentResult
	err := ledger.InTx(ctx, func(tx db.LedgerTx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		result.order = order

		f := order.Fulfillment
		if f == nil {
			return errNoFulfillment
		}
		if order.Status == models.StatusCancelled || order.Status == models.StatusRefunded {
			return errOrderClosed
		}
		if !slices.Contains(change.from, f.Status) {
			return nil
		}

		carrier := NormalizeCarrierName(change.carrier)
		trackingURL := resolveTrackingURL(change.trackingURL, carrier, change.trackingNumber)
		applied, err := tx.AdvanceFulfillment(ctx, orderID, models.FulfillmentUpdate{
			From:             change.from,
			To:               change.to,
			ShippingProvider: carrier,
			TrackingNumber:   change.trackingNumber,
			TrackingURL:      trackingURL,
			StampShipped:     change.to == models.FulfillmentShipped || change.to == models.FulfillmentDelivered,
			StampDelivered:   change.to == models.FulfillmentDelivered,
		})
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		result.matched = true
		result.advanced = f.Status != change.to
		applyShipmentLocally(f, change.to, carrier, change.trackingNumber, trackingURL)

		_, err = syncOrderWithFulfillment(ctx, tx, order, change.to)
		return err
	})
	if err != nil {
		return shipmentResult{}, err
	}
	return result, nil
}

func applyShipmentLocally(f *models.Fulfillment, to models.FulfillmentStatus, carrier, trackingNumber, trackingURL string) {
	now := time.Now().UTC()
	f.Status = to
	if carrier != "" {
		f.ShippingProvider = carrier
	}
	if trackingNumber != "" {
		f.TrackingNumber = trackingNumber
	}
	if trackingURL != "" {
		f.TrackingURL = trackingURL
	}
	if (to == models.FulfillmentShipped || to == models.FulfillmentDelivered) && f.ShippedAt.IsZero() {
		f.ShippedAt = now
	}
	if to == models.FulfillmentDelivered && f.DeliveredAt.IsZero() {
		f.DeliveredAt = now
	}
	f.UpdatedAt = now
}

// syncOrderWithFulfillment walks the order forward so a shipped or delivered
// fulfillment is reflected in the order status. Orders that cannot take the
// step (unpaid, cancelled, refunded) are left alone.
func syncOrderWithFulfillment(ctx context.Context, tx db.LedgerTx, order *models.Order, status models.FulfillmentStatus) (bool, error) {
	var steps []models.OrderTransition
	switch status {
	case models.FulfillmentShipped:
		steps = []models.OrderTransition{models.TransitionShipped}
	case models.FulfillmentDelivered:
		steps = []models.OrderTransition{models.TransitionShipped, models.TransitionDelivered}
	default:
		return false, nil
	}

	changed := false
	for _, step := range steps {
		if !step.Allows(order.Status) {
			continue
		}
		applied, err := tx.TransitionOrder(ctx, order.ID, step)
		if err != nil {
			return changed, err
		}
		if applied {
			order.Status = step.To
			changed = true
		}
	}
	return changed, nil
}

// notifyShipment fires the notification matching a fulfillment status.
func notifyShipment(ctx context.Context, notifier Notifier, order *models.Order, status models.FulfillmentStatus) error {
	switch status {
	case models.FulfillmentShipped:
		return notifier.OrderShipped(ctx, order)
	case models.FulfillmentDelivered:
		return notifier.OrderDelivered(ctx, order)
	default:
		return nil
	}
}
