package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/printshopapp/printshop/internal/cache"
	"github.com/printshopapp/printshop/internal/config"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/services"
	paymentgateway "github.com/printshopapp/printshop/internal/stripe"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

const maxRequestBodyBytes = 64 << 10

type Pinger interface {
	Ping(ctx context.Context) error
}

// OrderManager is the customer-facing order workflow.
type OrderManager interface {
	Submit(ctx context.Context, actor services.Actor, input services.SubmitOrderInput) (*models.Order, error)
	Get(ctx context.Context, actor services.Actor, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor services.Actor, status string) ([]*models.Order, error)
	Cancel(ctx context.Context, actor services.Actor, id uuid.UUID) (*models.Order, error)
	CreatePaymentIntent(ctx context.Context, actor services.Actor, id uuid.UUID) (*paymentgateway.PaymentIntent, error)
	ListPayments(ctx context.Context, actor services.Actor, id uuid.UUID) ([]models.Payment, error)
	UpdateShippingAddress(ctx context.Context, actor services.Actor, id uuid.UUID, address models.Address) (*models.Order, error)
}

// WebhookReconciler applies verified external events to the ledger.
type WebhookReconciler interface {
	HandlePaymentSucceeded(ctx context.Context, event services.PaymentEvent) (services.Outcome, error)
	HandlePaymentFailed(ctx context.Context, event services.PaymentEvent) (services.Outcome, error)
	HandleTrackerUpdate(ctx context.Context, event services.TrackingEvent) (services.Outcome, error)
	HandlePackageShipped(ctx context.Context, event services.ShipmentEvent) (services.Outcome, error)
}

type OrderAdministrator interface {
	ListOrders(ctx context.Context, filter services.AdminOrderFilter) ([]*models.Order, error)
	UpdateFulfillment(ctx context.Context, id uuid.UUID, input services.FulfillmentUpdateInput) (*models.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Refund(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handlers provides the HTTP surface of the order service.
type Handlers struct {
	config       *config.Config
	db           Pinger
	deduper      *cache.Deduper
	orders       OrderManager
	webhooks     WebhookReconciler
	admin        OrderAdministrator
	stripeRouter *StripeEventRouter
	logger       *slog.Logger
}

type Dependencies struct {
	Config   *config.Config
	DB       Pinger
	Deduper  *cache.Deduper
	Orders   OrderManager
	Webhooks WebhookReconciler
	Admin    OrderAdministrator
	Logger   *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.Deduper == nil {
		return nil, fmt.Errorf("handlers dependencies: deduper is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("handlers dependencies: orders is required")
	}
	if deps.Webhooks == nil {
		return nil, fmt.Errorf("handlers dependencies: webhooks is required")
	}
	if deps.Admin == nil {
		return nil, fmt.Errorf("handlers dependencies: admin is required")
	}

	logger = logger.With("component", "handlers")
	return &Handlers{
		config:       deps.Config,
		db:           deps.DB,
		deduper:      deps.Deduper,
		orders:       deps.Orders,
		webhooks:     deps.Webhooks,
		admin:        deps.Admin,
		stripeRouter: NewStripeEventRouter(deps.Webhooks, logger),
		logger:       logger,
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}

	writeJSON(w, logger, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}
