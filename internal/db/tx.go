package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/printshopapp/printshop/internal/models"
)

// LedgerTx is the set of operations available inside Ledger.InTx. Every
// status change is a compare-and-set on the current value; the boolean
// results report whether the row matched.
type LedgerTx interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TransitionOrder(ctx context.Context, id uuid.UUID, transition models.OrderTransition) (bool, error)
	SavePayment(ctx context.Context, payment *models.Payment) error
	SetProductsHistoric(ctx context.Context, productIDs []int64, historic bool) error
	AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, update models.FulfillmentUpdate) (bool, error)
	UpdateShippingAddress(ctx context.Context, orderID uuid.UUID, address models.Address) (bool, error)
	CompleteFulfillmentSubmission(ctx context.Context, orderID uuid.UUID, reference string) error
	RecordFulfillmentSubmissionFailure(ctx context.Context, orderID uuid.UUID, reason string) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (id, owner_id, customer_email, customer_name, total_amount, status, needs_fulfillment_submission) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		order.ID, order.OwnerID, order.CustomerEmail, order.CustomerName, order.TotalAmount, string(order.Status), order.NeedsFulfillmentSubmission,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", mapError(err))
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := t.tx.QueryRow(ctx,
			`INSERT INTO order_line_items (order_id, product_id, quantity, unit_price_at_purchase) VALUES ($1, $2, $3, $4) RETURNING id`,
			order.ID, item.ProductID, item.Quantity, item.UnitPriceAtPurchase,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert order line item: %w", mapError(err))
		}
	}

	if f := order.Fulfillment; f != nil {
		f.OrderID = order.ID
		if f.Status == "" {
			f.Status = models.FulfillmentUnfulfilled
		}
		err := t.tx.QueryRow(ctx,
			`INSERT INTO fulfillment_records (order_id, address1, address2, city, state, postal_code, country, fulfillment_status) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8) RETURNING id, created_at, updated_at`,
			order.ID, f.Address.Line1, f.Address.Line2, f.Address.City, f.Address.State, f.Address.PostalCode, f.Address.Country, string(f.Status),
		).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert fulfillment record: %w", mapError(err))
		}
	}
	return nil
}

// LockOrder reads the order row FOR UPDATE together with its children.
func (t *ledgerTx) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	items, err := loadLineItems(ctx, t.tx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	order.Items = items[id]

	order.Payments, err = loadPayments(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}

	fulfillments, err := loadFulfillments(ctx, t.tx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	order.Fulfillment = fulfillments[id]
	return order, nil
}

func (t *ledgerTx) TransitionOrder(ctx context.Context, id uuid.UUID, transition models.OrderTransition) (bool, error) {
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`,
		string(transition.To), id, models.StringStatuses(transition.From),
	)
	if err != nil {
		return false, fmt.Errorf("transition order %s: %w", transition.Name, err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// SavePayment promotes the pending attempt carrying the same external
// transaction id when there is one, and inserts a new record otherwise.
func (t *ledgerTx) SavePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ExternalTransactionID != "" && payment.Status != models.PaymentPending {
		err := t.tx.QueryRow(ctx,
			`UPDATE payment_records SET status = $1, amount_charged = $2, currency = $3 WHERE order_id = $4 AND external_transaction_id = $5 AND status = 'pending' RETURNING id, method, created_at`,
			string(payment.Status), payment.AmountCharged, payment.Currency, payment.OrderID, payment.ExternalTransactionID,
		).Scan(&payment.ID, &payment.Method, &payment.CreatedAt)
		if err == nil {
			return nil
		}
		if err = mapError(err); !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("promote payment record: %w", err)
		}
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO payment_records (order_id, method, status, amount_charged, currency, external_transaction_id) VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')) RETURNING id, created_at`,
		payment.OrderID, payment.Method, string(payment.Status), payment.AmountCharged, payment.Currency, payment.ExternalTransactionID,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment record: %w", mapError(err))
	}
	return nil
}

func (t *ledgerTx) SetProductsHistoric(ctx context.Context, productIDs []int64, historic bool) error {
	if len(productIDs) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `UPDATE products SET historic = $1 WHERE id = ANY($2)`, historic, productIDs); err != nil {
		return fmt.Errorf("update product historic flag: %w", err)
	}
	return nil
}

func (t *ledgerTx) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, update models.FulfillmentUpdate) (bool, error) {
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE fulfillment_records SET fulfillment_status = $2, shipping_provider = COALESCE(NULLIF($3, ''), shipping_provider), tracking_number = COALESCE(NULLIF($4, ''), tracking_number), tracking_url = COALESCE(NULLIF($5, ''), tracking_url), shipped_at = CASE WHEN $6::boolean THEN COALESCE(shipped_at, NOW()) ELSE shipped_at END, delivered_at = CASE WHEN $7::boolean THEN COALESCE(delivered_at, NOW()) ELSE delivered_at END, updated_at = NOW() WHERE order_id = $1 AND fulfillment_status = ANY($8)`,
		orderID,
		string(update.To),
		update.ShippingProvider,
		update.TrackingNumber,
		update.TrackingURL,
		update.StampShipped,
		update.StampDelivered,
		models.StringStatuses(update.From),
	)
	if err != nil {
		return false, fmt.Errorf("advance fulfillment: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

func (t *ledgerTx) UpdateShippingAddress(ctx context.Context, orderID uuid.UUID, address models.Address) (bool, error) {
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE fulfillment_records SET address1 = $2, address2 = NULLIF($3, ''), city = $4, state = $5, postal_code = $6, country = $7, updated_at = NOW() WHERE order_id = $1 AND fulfillment_status = 'unfulfilled'`,
		orderID, address.Line1, address.Line2, address.City, address.State, address.PostalCode, address.Country,
	)
	if err != nil {
		return false, fmt.Errorf("update shipping address: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// CompleteFulfillmentSubmission stores the provider reference, clears the
// retry flag and moves an unfulfilled record to processing.
func (t *ledgerTx) CompleteFulfillmentSubmission(ctx context.Context, orderID uuid.UUID, reference string) error {
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE orders SET external_fulfillment_reference = $2, needs_fulfillment_submission = FALSE, fulfillment_submission_attempts = fulfillment_submission_attempts + 1, fulfillment_submission_error = NULL, fulfillment_submission_claimed_until = NULL, updated_at = NOW() WHERE id = $1`,
		orderID, reference,
	)
	if err != nil {
		return fmt.Errorf("record fulfillment reference: %w", mapError(err))
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("record fulfillment reference: %w", ErrNotFound)
	}

	if _, err := t.tx.Exec(ctx,
		`UPDATE fulfillment_records SET fulfillment_status = 'processing', updated_at = NOW() WHERE order_id = $1 AND fulfillment_status = 'unfulfilled'`,
		orderID,
	); err != nil {
		return fmt.Errorf("mark fulfillment processing: %w", err)
	}
	return nil
}

func (t *ledgerTx) RecordFulfillmentSubmissionFailure(ctx context.Context, orderID uuid.UUID, reason string) error {
	cmdTag, err := t.tx.Exec(ctx,
		`UPDATE orders SET fulfillment_submission_attempts = fulfillment_submission_attempts + 1, fulfillment_submission_error = $2, fulfillment_submission_claimed_until = NULL, updated_at = NOW() WHERE id = $1`,
		orderID, reason,
	)
	if err != nil {
		return fmt.Errorf("record fulfillment submission failure: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("record fulfillment submission failure: %w", ErrNotFound)
	}
	return nil
}

// DeleteOrder removes the order and its children explicitly; foreign keys do
// not cascade.
func (t *ledgerTx) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	for _, stmt := range []string{
		`DELETE FROM payment_records WHERE order_id = $1`,
		`DELETE FROM fulfillment_records WHERE order_id = $1`,
		`DELETE FROM order_line_items WHERE order_id = $1`,
	} {
		if _, err := t.tx.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete order children: %w", err)
		}
	}

	cmdTag, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("delete order: %w", ErrNotFound)
	}
	return nil
}
