package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/printful"
	"github.com/printshopapp/printshop/internal/stripe"
)

// Ledger is the persistence surface the services depend on. *db.Ledger
// implements it.
type Ledger interface {
	InTx(ctx context.Context, fn func(db.LedgerTx) error) error
	Ping(ctx context.Context) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error)
	ClaimPendingSubmissions(ctx context.Context, claim db.SubmissionClaim) ([]*models.Order, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]models.Product, error)
	FindOrderIDByTrackingNumber(ctx context.Context, trackingNumber string) (uuid.UUID, error)
	FindOrderIDByExternalReference(ctx context.Context, reference string) (uuid.UUID, error)
}

// PaymentGateway creates payment credentials. *stripe.PaymentClient
// implements it.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, params stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Currency() string
}

// FulfillmentProvider accepts print-on-demand orders and finds them again by
// external id. *printful.Client implements it.
type FulfillmentProvider interface {
	CreateOrder(ctx context.Context, order printful.OrderRequest) (*printful.CreatedOrder, error)
	GetOrder(ctx context.Context, externalID string) (*printful.CreatedOrder, error)
}

// Actor is the authenticated caller of a user-facing operation.
type Actor struct {
	UserID int64
	Email  string
	Name   string
	Admin  bool
}

func (a Actor) owns(order *models.Order) bool {
	return a.Admin || (order != nil && order.OwnerID == a.UserID)
}

var _ Ledger = (*db.Ledger)(nil)
