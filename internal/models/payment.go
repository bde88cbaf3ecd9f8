package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID                    int64           `json:"id"`
	OrderID               uuid.UUID       `json:"order_id"`
	Method                string          `json:"method"`
	Status                PaymentStatus   `json:"status"`
	AmountCharged         decimal.Decimal `json:"amount_charged"`
	Currency              string          `json:"currency"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}
