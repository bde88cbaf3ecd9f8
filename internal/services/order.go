package services

import (
	"context"
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
	"github.com/printshopapp/printshop/internal/stripe"
)

const paymentMethodStripe = "stripe"

// OrderService owns customer-initiated order operations: submission,
// cancellation, payment credentials and address changes.
type OrderService struct {
	ledger    Ledger
	gateway   PaymentGateway
	submitter *FulfillmentSubmitter
	logger    *slog.Logger
}

func NewOrderService(ledger Ledger, gateway PaymentGateway, submitter *FulfillmentSubmitter, logger *slog.Logger) *OrderService {
	return &OrderService{
		ledger:    ledger,
		gateway:   gateway,
		submitter: submitter,
		logger:    logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type OrderItemInput struct {
	ProductID int64
	Quantity  int
}

type SubmitOrderInput struct {
	Items   []OrderItemInput
	Address models.Address
}

// Submit prices the cart from the catalog, persists the order with its line
// items and fulfillment record in one transaction, then hands any
// provider-fulfilled items to the fulfillment provider. A provider failure
// leaves the order flagged for retry and is not returned to the caller.
func (s *OrderService) Submit(ctx context.Context, actor Actor, input SubmitOrderInput) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.submit",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Submit"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	recordFailure := func(reason string) {
		meter.Count("order.submit.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}

	if actor.UserID <= 0 {
		recordFailure("unauthorized")
		return nil, fmt.Errorf("%w: order submission requires a user", ErrUnauthorized)
	}
	if err := validateSubmitInput(input); err != nil {
		recordFailure("invalid_payload")
		return nil, err
	}

	productIDs := make([]int64, 0, len(input.Items))
	for _, item := range input.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.ledger.GetProducts(ctx, productIDs)
	if err != nil {
		recordFailure("product_lookup_failed")
		return nil, classifyStoreError("load products", err)
	}

	order, err := buildOrder(actor, input, products)
	if err != nil {
		recordFailure("unknown_product")
		return nil, err
	}
	order.NeedsFulfillmentSubmission = needsProvider(order, products)

	if err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		return tx.InsertOrder(ctx, order)
	}); err != nil {
		recordFailure("persist_failed")
		logger.Error("failed to persist order", "error", err, "owner_id", actor.UserID)
		return nil, classifyStoreError("create order", err)
	}

	logger = logger.With("order_id", order.ID)
	meter.Count("order.submitted", 1)
	logger.Info("order created", "total_amount", order.TotalAmount.StringFixed(2), "items", len(order.Items), "needs_fulfillment_submission", order.NeedsFulfillmentSubmission)

	if order.NeedsFulfillmentSubmission && s.submitter.Enabled() {
		if err := s.submitter.Submit(ctx, order, products); err != nil {
			logger.Warn("order kept without fulfillment submission", "error", err)
		}
	}

	return order, nil
}

func validateSubmitInput(input SubmitOrderInput) error {
	verr := &ValidationError{}
	if len(input.Items) == 0 {
		verr.add("items", "at least one item is required")
	}
	for i, item := range input.Items {
		if item.ProductID <= 0 {
			verr.add(fmt.Sprintf("items[%d].product_id", i), "must be a positive id")
		}
		if item.Quantity <= 0 {
			verr.add(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
	}
	validateAddress(verr, input.Address)
	return verr.errOrNil()
}

func validateAddress(verr *ValidationError, address models.Address) {
	required := []struct {
		field string
		value string
	}{
		{"fulfillmentDetails.address1", address.Line1},
		{"fulfillmentDetails.city", address.City},
		{"fulfillmentDetails.state", address.State},
		{"fulfillmentDetails.postal_code", address.PostalCode},
		{"fulfillmentDetails.country", address.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.add(r.field, "is required")
		}
	}
}

func trimAddress(address models.Address) models.Address {
	return models.Address{
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      strings.TrimSpace(address.Line2),
		City:       strings.TrimSpace(address.City),
		State:      strings.TrimSpace(address.State),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
	}
}

// buildOrder snapshots current catalog prices into line items. The total is
// always the sum of those snapshots.
func buildOrder(actor Actor, input SubmitOrderInput, products map[int64]models.Product) (*models.Order, error) {
	verr := &ValidationError{}
	order := &models.Order{
		ID:            uuid.New(),
		OwnerID:       actor.UserID,
		CustomerEmail: strings.TrimSpace(actor.Email),
		CustomerName:  strings.TrimSpace(actor.Name),
		Status:        models.StatusPendingPayment,
		Items:         make([]models.LineItem, 0, len(input.Items)),
		Fulfillment: &models.Fulfillment{
			Address: trimAddress(input.Address),
			Status:  models.FulfillmentUnfulfilled,
		},
	}

	total := decimal.Zero
	for i, item := range input.Items {
		product, ok := products[item.ProductID]
		if !ok {
			verr.add(fmt.Sprintf("items[%d].product_id", i), "unknown product")
			continue
		}
		if product.Historic {
			verr.add(fmt.Sprintf("items[%d].product_id", i), "product is no longer available")
			continue
		}
		line := models.LineItem{
			ProductID:           product.ID,
			ProductName:         product.Name,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: product.Price,
		}
		total = total.Add(line.Subtotal())
		order.Items = append(order.Items, line)
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	order.TotalAmount = total
	return order, nil
}

// Get returns a single order with items, payments and fulfillment.
func (s *OrderService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	order, err := s.ledger.GetOrder(ctx, id)
	if err != nil {
		return nil, classifyStoreError("get order", err)
	}
	if !actor.owns(order) {
		return nil, fmt.Errorf("%w: order belongs to another user", ErrForbidden)
	}
	return order, nil
}

// List returns the caller's orders. status may be "", "open" or "closed".
func (s *OrderService) List(ctx context.Context, actor Actor, status string) ([]*models.Order, error) {
	statuses, err := parseStatusFilter(status, false)
	if err != nil {
		return nil, err
	}
	orders, err := s.ledger.ListOrders(ctx, models.OrderFilter{
		OwnerID:  actor.UserID,
		Statuses: statuses,
	})
	if err != nil {
		return nil, classifyStoreError("list orders", err)
	}
	return orders, nil
}

// parseStatusFilter resolves the "open"/"closed" groups and, when
// allowConcrete is set, a single concrete status.
func parseStatusFilter(value string, allowConcrete bool) ([]models.OrderStatus, error) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "":
		return nil, nil
	case "open":
		return models.OpenStatuses, nil
	case "closed":
		return models.ClosedStatuses, nil
	default:
		if status := models.OrderStatus(v); allowConcrete && status.Valid() {
			return []models.OrderStatus{status}, nil
		}
		return nil, &ValidationError{Fields: map[string]string{"status": "must be open or closed"}}
	}
}

// Cancel cancels an order the actor owns.
func (s *OrderService) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.cancel",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("Cancel"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := cancelOrder(ctx, s.ledger, id, func(order *models.Order) error {
		if !actor.owns(order) {
			return fmt.Errorf("%w: order belongs to another user", ErrForbidden)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.MeterFromContext(ctx).Count("order.cancelled", 1)
	s.loggerFromContext(ctx).Info("order cancelled", "order_id", id, "actor_id", actor.UserID)
	return order, nil
}

// cancelOrder applies the cancel transition under a row lock. Cancellation
// requires an unfulfilled shipment; products marked historic by a
// successful payment are made current again.
func cancelOrder(ctx context.Context, ledger Ledger, id uuid.UUID, authorize func(*models.Order) error) (*models.Order, error) {
	var cancelled *models.Order
	err := ledger.InTx(ctx, func(tx db.LedgerTx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(order); err != nil {
			return err
		}
		if err := checkCancellable(order); err != nil {
			return err
		}

		applied, err := tx.TransitionOrder(ctx, id, models.TransitionCancel)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order %s changed status concurrently", ErrConflict, id)
		}
		if order.Status == models.StatusProcessing {
			if err := tx.SetProductsHistoric(ctx, order.ProductIDs(), false); err != nil {
				return err
			}
		}

		order.Status = models.StatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, classifyStoreError("cancel order", err)
	}
	return cancelled, nil
}

func checkCancellable(order *models.Order) error {
	if _, err := models.TransitionCancel.Apply(order.Status); err != nil {
		return fmt.Errorf("%w: order is %s and cannot be cancelled", ErrConflict, order.Status)
	}
	if order.Fulfillment != nil && order.Fulfillment.Status != models.FulfillmentUnfulfilled {
		return fmt.Errorf("%w: fulfillment is %s and cannot be cancelled", ErrConflict, order.Fulfillment.Status)
	}
	return nil
}

// CreatePaymentIntent obtains a payment credential for the order total and
// records a pending payment attempt for it.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, actor Actor, id uuid.UUID) (*stripe.PaymentIntent, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create_payment_intent",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("CreatePaymentIntent"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", id)
	meter := observability.MeterFromContext(ctx)

	order, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if hasSucceededPayment(order) {
		return nil, fmt.Errorf("%w: order is already paid", ErrConflict)
	}
	if order.Status != models.StatusPendingPayment {
		return nil, fmt.Errorf("%w: order is %s and not awaiting payment", ErrConflict, order.Status)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, stripe.PaymentIntentParams{
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		CustomerEmail: order.CustomerEmail,
		Description:   "Order " + orderNumber(order),
	})
	if err != nil {
		meter.Count("payment.intent.failed", 1)
		logger.Error("failed to create payment intent", "error", err)
		return nil, fmt.Errorf("%w: create payment intent: %w", ErrExternalService, err)
	}

	attempt := &models.Payment{
		OrderID:               order.ID,
		Method:                paymentMethodStripe,
		Status:                models.PaymentPending,
		AmountCharged:         order.TotalAmount,
		Currency:              s.gateway.Currency(),
		ExternalTransactionID: intent.ID,
	}
	if err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		return tx.SavePayment(ctx, attempt)
	}); err != nil {
		// The webhook inserts its own record when no pending attempt exists.
		logger.Warn("failed to record pending payment attempt", "error", err, "payment_intent_id", intent.ID)
	}

	meter.Count("payment.intent.created", 1)
	logger.Info("payment intent created", "payment_intent_id", intent.ID)
	return intent, nil
}

func hasSucceededPayment(order *models.Order) bool {
	for _, payment := range order.Payments {
		if payment.Status == models.PaymentSucceeded {
			return true
		}
	}
	return false
}

// ListPayments returns every payment attempt recorded for the order.
func (s *OrderService) ListPayments(ctx context.Context, actor Actor, id uuid.UUID) ([]models.Payment, error) {
	order, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if order.Payments == nil {
		return []models.Payment{}, nil
	}
	return order.Payments, nil
}

// UpdateShippingAddress replaces the address while the shipment is still
// unfulfilled.
func (s *OrderService) UpdateShippingAddress(ctx context.Context, actor Actor, id uuid.UUID, address models.Address) (*models.Order, error) {
	verr := &ValidationError{}
	validateAddress(verr, address)
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}
	address = trimAddress(address)

	var updated *models.Order
	err := s.ledger.InTx(ctx, func(tx db.LedgerTx) error {
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !actor.owns(order) {
			return fmt.Errorf("%w: order belongs to another user", ErrForbidden)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order is %s", ErrConflict, order.Status)
		}

		applied, err := tx.UpdateShippingAddress(ctx, id, address)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: shipping address is frozen once fulfillment has started", ErrConflict)
		}
		if order.Fulfillment != nil {
			order.Fulfillment.Address = address
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, classifyStoreError("update shipping address", err)
	}

	s.loggerFromContext(ctx).Info("shipping address updated", "order_id", id)
	return updated, nil
}
