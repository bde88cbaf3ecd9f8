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
	"github.com/shopspring/decimal"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/observability"
)

// Outcome describes how a webhook event was handled. Every outcome is
// acknowledged to the sender; only errors trigger redelivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Tracker statuses that drive the fulfillment ratchet.
const (
	TrackingStatusInTransit = "in_transit"
	TrackingStatusDelivered = "delivered"
)

var errDuplicatePayment = errors.New("payment already recorded")

// WebhookService reconciles inbound payment, tracking and provider shipment
// events with the ledger. Every handler is safe under redelivery.
type WebhookService struct {
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
}

func NewWebhookService(ledger Ledger, notifier Notifier, logger *slog.Logger) *WebhookService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &WebhookService{
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *WebhookService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// PaymentEvent is a payment processor notification for one order.
type PaymentEvent struct {
	OrderID       uuid.UUID
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

// HandlePaymentSucceeded records the successful payment, moves the order to
// processing and retires its products from the catalog. A second delivery
// finds the succeeded record and changes nothing.
func (s *WebhookService) HandlePaymentSucceeded(ctx context.Context, event PaymentEvent) (Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.webhook.payment_succeeded",
		sentry.WithOpName("service.webhook"),
		sentry.WithDescription("HandlePaymentSucceeded"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", event.OrderID, "transaction_id", event.TransactionID)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("source", "payment_succeeded"))

	if event.OrderID == uuid.Nil {
		logger.Info("payment event has no order reference; skipping")
		return OutcomeIgnored, nil
	}

	var (
		order        *models.Order
		outcome      = OutcomeApplied
		transitioned bool
	)
	err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		locked, err := tx.LockOrder(ctx, event.OrderID)
		if errors.Is(err, db.ErrNotFound) {
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		order = locked

		if hasSucceededPayment(locked) {
			outcome = OutcomeDuplicate
			return nil
		}

		payment := &models.Payment{
			OrderID:               locked.ID,
			Method:                paymentMethodStripe,
			Status:                models.PaymentSucceeded,
			AmountCharged:         event.Amount,
			Currency:              strings.ToLower(event.Currency),
			ExternalTransactionID: event.TransactionID,
		}
		if err := tx.SavePayment(ctx, payment); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return errDuplicatePayment
			}
			return err
		}
		locked.Payments = append(locked.Payments, *payment)

		applied, err := tx.TransitionOrder(ctx, locked.ID, models.TransitionPaymentSucceeded)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		transitioned = true
		locked.Status = models.StatusProcessing
		return tx.SetProductsHistoric(ctx, locked.ProductIDs(), true)
	})
	if errors.Is(err, errDuplicatePayment) {
		outcome, err = OutcomeDuplicate, nil
	}
	if err != nil {
		meter.Count("webhook.payment.failed", 1)
		logger.Error("failed to reconcile payment", "error", err)
		return "", classifyStoreError("reconcile payment", err)
	}

	switch {
	case outcome == OutcomeIgnored:
		meter.Count("webhook.payment.unknown_order", 1)
		logger.Warn("payment event for unknown order; acknowledging")
		return outcome, nil
	case outcome == OutcomeDuplicate:
		meter.Count("webhook.payment.duplicate", 1)
		logger.Info("payment already recorded; acknowledging redelivery")
		return outcome, nil
	case !transitioned:
		meter.Count("webhook.payment.late", 1, sentry.WithAttributes(
			attribute.String("order_status", string(order.Status)),
		))
		logger.Warn("payment recorded for order not awaiting payment", "status", order.Status)
		return outcome, nil
	}

	if !event.Amount.Equal(order.TotalAmount) {
		logger.Warn("payment amount differs from order total", "amount", event.Amount.StringFixed(2), "total_amount", order.TotalAmount.StringFixed(2))
	}

	meter.Count("webhook.payment.applied", 1)
	logger.Info("payment confirmed, order processing")
	if err := s.notifier.OrderConfirmed(ctx, order); err != nil {
		logger.Error("failed to send order confirmation", "error", err)
	}
	return outcome, nil
}

// HandlePaymentFailed records a failed attempt. The order stays
// pending_payment so the customer can try again.
func (s *WebhookService) HandlePaymentFailed(ctx context.Context, event PaymentEvent) (Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.webhook.payment_failed",
		sentry.WithOpName("service.webhook"),
		sentry.WithDescription("HandlePaymentFailed"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", event.OrderID, "transaction_id", event.TransactionID)
	meter := observability.MeterFromContext(ctx)

	if event.OrderID == uuid.Nil {
		logger.Info("payment event has no order reference; skipping")
		return OutcomeIgnored, nil
	}

	outcome := OutcomeApplied
	err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		order, err := tx.LockOrder(ctx, event.OrderID)
		if errors.Is(err, db.ErrNotFound) {
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		for _, payment := range order.Payments {
			if payment.ExternalTransactionID == event.TransactionID && payment.Status != models.PaymentPending {
				outcome = OutcomeDuplicate
				return nil
			}
		}

		return tx.SavePayment(ctx, &models.Payment{
			OrderID:               order.ID,
			Method:                paymentMethodStripe,
			Status:                models.PaymentFailed,
			AmountCharged:         event.Amount,
			Currency:              strings.ToLower(event.Currency),
			ExternalTransactionID: event.TransactionID,
		})
	})
	if err != nil {
		logger.Error("failed to record payment failure", "error", err)
		return "", classifyStoreError("record payment failure", err)
	}

	meter.Count("webhook.payment_failed."+string(outcome), 1)
	logger.Info("payment failure handled", "outcome", outcome, "failure_reason", event.FailureReason)
	return outcome, nil
}

// TrackingEvent is a carrier tracker update.
type TrackingEvent struct {
	TrackingCode string
	Status       string
	Carrier      string
	PublicURL    string
}

// trackingChanges maps carrier statuses onto fulfillment ratchet steps.
// Statuses not listed are acknowledged and ignored.
var trackingChanges = map[string]shipmentChange{
	TrackingStatusInTransit: {
		from: []models.FulfillmentStatus{models.FulfillmentUnfulfilled, models.FulfillmentProcessing},
		to:   models.FulfillmentShipped,
	},
	TrackingStatusDelivered: {
		from: models.FulfillmentDelivered.Before(),
		to:   models.FulfillmentDelivered,
	},
}

// HandleTrackerUpdate advances the shipment matching the tracking code.
// Late or repeated statuses never move a shipment backwards.
func (s *WebhookService) HandleTrackerUpdate(ctx context.Context, event TrackingEvent) (Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.webhook.tracker_update",
		sentry.WithOpName("service.webhook"),
		sentry.WithDescription("HandleTrackerUpdate"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("tracking_code", event.TrackingCode, "tracking_status", event.Status)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("source", "tracker_update"))

	change, ok := trackingChanges[strings.ToLower(strings.TrimSpace(event.Status))]
	if !ok || strings.TrimSpace(event.TrackingCode) == "" {
		meter.Count("webhook.tracking.ignored", 1)
		logger.Debug("tracking status has no transition; ignoring")
		return OutcomeIgnored, nil
	}

	orderID, err := s.ledger.FindOrderIDByTrackingNumber(ctx, event.TrackingCode)
	if errors.Is(err, db.ErrNotFound) {
		meter.Count("webhook.tracking.unknown", 1)
		logger.Info("tracking code not linked to any order; acknowledging")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", classifyStoreError("find order by tracking code", err)
	}

	change.carrier = event.Carrier
	change.trackingURL = event.PublicURL
	return s.applyShipment(ctx, logger.With("order_id", orderID), orderID, change, "tracking")
}

// ShipmentEvent is a fulfillment provider "package shipped" notification.
// ExternalID is the reference this service sent at creation.
type ShipmentEvent struct {
	ExternalReference string
	ExternalID        string
	Carrier           string
	TrackingNumber    string
	TrackingURL       string
}

// HandlePackageShipped marks the provider order's shipment shipped with its
// tracking details.
func (s *WebhookService) HandlePackageShipped(ctx context.Context, event ShipmentEvent) (Outcome, error) {
	span := sentry.StartSpan(
		ctx,
		"service.webhook.package_shipped",
		sentry.WithOpName("service.webhook"),
		sentry.WithDescription("HandlePackageShipped"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("external_reference", event.ExternalReference)
	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("source", "package_shipped"))

	if strings.TrimSpace(event.ExternalReference) == "" {
		logger.Info("shipment event has no provider order id; skipping")
		return OutcomeIgnored, nil
	}

	orderID, err := s.ledger.FindOrderIDByExternalReference(ctx, event.ExternalReference)
	if errors.Is(err, db.ErrNotFound) {
		orderID, err = s.linkProviderOrder(ctx, event)
	}
	if errors.Is(err, db.ErrNotFound) {
		meter.Count("webhook.shipment.unknown", 1)
		logger.Warn("shipment event for unknown provider order; acknowledging", "external_id", event.ExternalID)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", classifyStoreError("find order by provider reference", err)
	}

	return s.applyShipment(ctx, logger.With("order_id", orderID), orderID, shipmentChange{
		from:           []models.FulfillmentStatus{models.FulfillmentUnfulfilled, models.FulfillmentProcessing},
		to:             models.FulfillmentShipped,
		carrier:        event.Carrier,
		trackingNumber: event.TrackingNumber,
		trackingURL:    event.TrackingURL,
	}, "shipment")
}

// linkProviderOrder resolves a shipment whose provider order was never
// linked, which happens when the create response was lost. The external id
// names the order; its provider reference is stored before the shipment
// applies. An order already linked to a different provider order is
// reported as not found.
func (s *WebhookService) linkProviderOrder(ctx context.Context, event ShipmentEvent) (uuid.UUID, error) {
	orderID, ok := orderIDFromExternalID(event.ExternalID)
	if !ok {
		return uuid.Nil, db.ErrNotFound
	}

	err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch order.ExternalFulfillmentReference {
		case event.ExternalReference:
			return nil
		case "":
			return tx.CompleteFulfillmentSubmission(ctx, orderID, event.ExternalReference)
		default:
			return db.ErrNotFound
		}
	})
	if err != nil {
		return uuid.Nil, err
	}

	observability.MeterFromContext(ctx).Count("webhook.shipment.linked", 1)
	s.loggerFromContext(ctx).Info("linked provider order from shipment event", "order_id", orderID, "external_reference", event.ExternalReference)
	return orderID, nil
}

func (s *WebhookService) applyShipment(ctx context.Context, logger *slog.Logger, orderID uuid.UUID, change shipmentChange, source string) (Outcome, error) {
	meter := observability.MeterFromContext(ctx)

	result, err := advanceShipment(ctx, s.ledger, orderID, change)
	if errors.Is(err, errNoFulfillment) {
		logger.Warn("order has no fulfillment record; acknowledging")
		return OutcomeIgnored, nil
	}
	if errors.Is(err, errOrderClosed) {
		meter.Count(fmt.Sprintf("webhook.%s.order_closed", source), 1)
		logger.Warn("shipment update for a cancelled or refunded order; acknowledging")
		return OutcomeIgnored, nil
	}
	if err != nil {
		meter.Count(fmt.Sprintf("webhook.%s.failed", source), 1)
		logger.Error("failed to apply shipment update", "error", err)
		return "", classifyStoreError("apply shipment update", err)
	}
	if !result.advanced {
		meter.Count(fmt.Sprintf("webhook.%s.duplicate", source), 1)
		logger.Info("shipment already at or past this status; acknowledging")
		return OutcomeDuplicate, nil
	}

	meter.Count(fmt.Sprintf("webhook.%s.applied", source), 1, sentry.WithAttributes(
		attribute.String("fulfillment_status", string(change.to)),
	))
	logger.Info("shipment advanced", "fulfillment_status", change.to, "order_status", result.order.Status)
	if err := notifyShipment(ctx, s.notifier, result.order, change.to); err != nil {
		logger.Error("failed to send shipment notification", "error", err)
	}
	return OutcomeApplied, nil
}
