package models

import (
	"time"

	"github.com/google/uuid"
)

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentProcessing  FulfillmentStatus = "processing"
	FulfillmentShipped     FulfillmentStatus = "shipped"
	FulfillmentDelivered   FulfillmentStatus = "delivered"
)

var fulfillmentRank = map[FulfillmentStatus]int{
	FulfillmentUnfulfilled: 0,
	FulfillmentProcessing:  1,
	FulfillmentShipped:     2,
	FulfillmentDelivered:   3,
}

func (s FulfillmentStatus) Valid() bool {
	_, ok := fulfillmentRank[s]
	return ok
}

// Before lists the statuses strictly earlier than s in the shipping ratchet.
func (s FulfillmentStatus) Before() []FulfillmentStatus {
	rank, ok := fulfillmentRank[s]
	if !ok {
		return nil
	}
	var out []FulfillmentStatus
	for _, status := range []FulfillmentStatus{FulfillmentUnfulfilled, FulfillmentProcessing, FulfillmentShipped, FulfillmentDelivered} {
		if fulfillmentRank[status] < rank {
			out = append(out, status)
		}
	}
	return out
}

// AtOrBefore is Before plus s itself.
func (s FulfillmentStatus) AtOrBefore() []FulfillmentStatus {
	if !s.Valid() {
		return nil
	}
	return append(s.Before(), s)
}

type Address struct {
	Line1      string `json:"address1"`
	Line2      string `json:"address2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Fulfillment struct {
	ID               int64             `json:"id"`
	OrderID          uuid.UUID         `json:"order_id"`
	Address          Address           `json:"shipping_address"`
	Status           FulfillmentStatus `json:"fulfillment_status"`
	ShippingProvider string            `json:"shipping_provider,omitempty"`
	TrackingNumber   string            `json:"tracking_number,omitempty"`
	TrackingURL      string            `json:"tracking_url,omitempty"`
	ShippedAt        time.Time         `json:"shipped_at,omitzero"`
	DeliveredAt      time.Time         `json:"delivered_at,omitzero"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// FulfillmentUpdate is a conditional ratchet step: it applies only while the
// current status is one of From. Empty tracking fields keep their stored value.
type FulfillmentUpdate struct {
	From             []FulfillmentStatus
	To               FulfillmentStatus
	ShippingProvider string
	TrackingNumber   string
	TrackingURL      string
	StampShipped     bool
	StampDelivered   bool
}
