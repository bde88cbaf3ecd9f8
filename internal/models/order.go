package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusProcessing     OrderStatus = "processing"
	StatusShipped        OrderStatus = "shipped"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusRefunded       OrderStatus = "refunded"
	StatusCompleted      OrderStatus = "completed"
)

// AllOrderStatuses lists every status accepted by the orders.status column.
var AllOrderStatuses = []OrderStatus{
	StatusPendingPayment,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
	StatusCompleted,
}

func (s OrderStatus) Valid() bool {
	for _, status := range AllOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition is defined out of s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded, StatusCompleted:
		return true
	default:
		return false
	}
}

// Open reports whether the order is still moving through the workflow.
func (s OrderStatus) Open() bool {
	return s.Valid() && !s.Terminal()
}

type Order struct {
	ID                            uuid.UUID       `json:"id"`
	OwnerID                       int64           `json:"owner_id"`
	CustomerEmail                 string          `json:"customer_email,omitempty"`
	CustomerName                  string          `json:"customer_name,omitempty"`
	TotalAmount                   decimal.Decimal `json:"total_amount"`
	Status                        OrderStatus     `json:"status"`
	ExternalFulfillmentReference  string          `json:"external_fulfillment_reference,omitempty"`
	NeedsFulfillmentSubmission    bool            `json:"needs_fulfillment_submission"`
	FulfillmentSubmissionAttempts int             `json:"fulfillment_submission_attempts"`
	FulfillmentSubmissionError    string          `json:"-"`
	CreatedAt                     time.Time       `json:"created_at"`
	UpdatedAt                     time.Time       `json:"updated_at"`

	Items       []LineItem   `json:"items,omitempty"`
	Payments    []Payment    `json:"payments,omitempty"`
	Fulfillment *Fulfillment `json:"fulfillment,omitempty"`
}

// ProductIDs returns the distinct products referenced by the order's line items.
func (o *Order) ProductIDs() []int64 {
	if o == nil {
		return nil
	}
	seen := make(map[int64]struct{}, len(o.Items))
	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

type LineItem struct {
	ID                  int64           `json:"id"`
	OrderID             uuid.UUID       `json:"order_id"`
	ProductID           int64           `json:"product_id"`
	ProductName         string          `json:"product_name,omitempty"`
	Quantity            int             `json:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unit_price_at_purchase"`
}

// Subtotal is the snapshotted unit price times the quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	OwnerID  int64
	Statuses []OrderStatus
	Limit    int
}

// OpenStatuses and ClosedStatuses back the "open"/"closed" listing filters.
var (
	OpenStatuses   = []OrderStatus{StatusPendingPayment, StatusProcessing, StatusShipped}
	ClosedStatuses = []OrderStatus{StatusDelivered, StatusCancelled, StatusRefunded, StatusCompleted}
)
