package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/printshopapp/printshop/internal/models"
)

const defaultListLimit = 100

const orderColumns = `id, owner_id, customer_email, customer_name, total_amount, status, COALESCE(external_fulfillment_reference, ''), needs_fulfillment_submission, fulfillment_submission_attempts, COALESCE(fulfillment_submission_error, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.OwnerID,
		&o.CustomerEmail,
		&o.CustomerName,
		&o.TotalAmount,
		&o.Status,
		&o.ExternalFulfillmentReference,
		&o.NeedsFulfillmentSubmission,
		&o.FulfillmentSubmissionAttempts,
		&o.FulfillmentSubmissionError,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]*models.Order, error) {
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func loadLineItems(ctx context.Context, q querier, orderIDs []uuid.UUID) (map[uuid.UUID][]models.LineItem, error) {
	rows, err := q.Query(ctx, `SELECT li.id, li.order_id, li.product_id, p.name, li.quantity, li.unit_price_at_purchase FROM order_line_items li JOIN products p ON p.id = li.product_id WHERE li.order_id = ANY($1) ORDER BY li.id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]models.LineItem, len(orderIDs))
	for rows.Next() {
		var item models.LineItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load line items: %w", err)
	}
	return items, nil
}

func loadPayments(ctx context.Context, q querier, orderID uuid.UUID) ([]models.Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, method, status, amount_charged, currency, COALESCE(external_transaction_id, ''), created_at FROM payment_records WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Status, &p.AmountCharged, &p.Currency, &p.ExternalTransactionID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	return payments, nil
}

const fulfillmentColumns = `id, order_id, address1, COALESCE(address2, ''), city, state, postal_code, country, fulfillment_status, COALESCE(shipping_provider, ''), COALESCE(tracking_number, ''), COALESCE(tracking_url, ''), shipped_at, delivered_at, created_at, updated_at`

func scanFulfillment(row pgx.Row) (*models.Fulfillment, error) {
	var (
		f           models.Fulfillment
		shippedAt   *time.Time
		deliveredAt *time.Time
	)
	err := row.Scan(
		&f.ID,
		&f.OrderID,
		&f.Address.Line1,
		&f.Address.Line2,
		&f.Address.City,
		&f.Address.State,
		&f.Address.PostalCode,
		&f.Address.Country,
		&f.Status,
		&f.ShippingProvider,
		&f.TrackingNumber,
		&f.TrackingURL,
		&shippedAt,
		&deliveredAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if shippedAt != nil {
		f.ShippedAt = *shippedAt
	}
	if deliveredAt != nil {
		f.DeliveredAt = *deliveredAt
	}
	return &f, nil
}

func loadFulfillments(ctx context.Context, q querier, orderIDs []uuid.UUID) (map[uuid.UUID]*models.Fulfillment, error) {
	rows, err := q.Query(ctx, `SELECT `+fulfillmentColumns+` FROM fulfillment_records WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load fulfillments: %w", err)
	}
	defer rows.Close()

	fulfillments := make(map[uuid.UUID]*models.Fulfillment, len(orderIDs))
	for rows.Next() {
		f, err := scanFulfillment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fulfillment: %w", err)
		}
		fulfillments[f.OrderID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load fulfillments: %w", err)
	}
	return fulfillments, nil
}
