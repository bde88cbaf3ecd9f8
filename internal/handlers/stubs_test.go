package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/printshopapp/printshop/internal/auth"
	"github.com/printshopapp/printshop/internal/cache"
	"github.com/printshopapp/printshop/internal/config"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/services"
	paymentgateway "github.com/printshopapp/printshop/internal/stripe"
)

const (
	testStripeSecret   = "whsec_test_secret"
	testPrintfulSecret = "pf_test_secret"
	testEasyPostSecret = "ep_test_secret"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type stubOrders struct {
	mu        sync.Mutex
	submitted []services.SubmitOrderInput
	actors    []services.Actor
	order     *models.Order
	orders    []*models.Order
	intent    *paymentgateway.PaymentIntent
	payments  []models.Payment
	address   models.Address
	status    string
	err       error
}

func (s *stubOrders) record(actor services.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors = append(s.actors, actor)
}

func (s *stubOrders) Submit(_ context.Context, actor services.Actor, input services.SubmitOrderInput) (*models.Order, error) {
	s.record(actor)
	s.mu.Lock()
	s.submitted = append(s.submitted, input)
	s.mu.Unlock()
	return s.order, s.err
}

func (s *stubOrders) Get(_ context.Context, actor services.Actor, _ uuid.UUID) (*models.Order, error) {
	s.record(actor)
	return s.order, s.err
}

func (s *stubOrders) List(_ context.Context, actor services.Actor, status string) ([]*models.Order, error) {
	s.record(actor)
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return s.orders, s.err
}

func (s *stubOrders) Cancel(_ context.Context, actor services.Actor, _ uuid.UUID) (*models.Order, error) {
	s.record(actor)
	return s.order, s.err
}

func (s *stubOrders) CreatePaymentIntent(_ context.Context, actor services.Actor, _ uuid.UUID) (*paymentgateway.PaymentIntent, error) {
	s.record(actor)
	return s.intent, s.err
}

func (s *stubOrders) ListPayments(_ context.Context, actor services.Actor, _ uuid.UUID) ([]models.Payment, error) {
	s.record(actor)
	return s.payments, s.err
}

func (s *stubOrders) UpdateShippingAddress(_ context.Context, actor services.Actor, _ uuid.UUID, address models.Address) (*models.Order, error) {
	s.record(actor)
	s.mu.Lock()
	s.address = address
	s.mu.Unlock()
	return s.order, s.err
}

type stubWebhooks struct {
	mu        sync.Mutex
	payments  []services.PaymentEvent
	failures  []services.PaymentEvent
	tracking  []services.TrackingEvent
	shipments []services.ShipmentEvent
	outcome   services.Outcome
	err       error
}

func (s *stubWebhooks) result() (services.Outcome, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.outcome == "" {
		return services.OutcomeApplied, nil
	}
	return s.outcome, nil
}

func (s *stubWebhooks) HandlePaymentSucceeded(_ context.Context, event services.PaymentEvent) (services.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, event)
	return s.result()
}

func (s *stubWebhooks) HandlePaymentFailed(_ context.Context, event services.PaymentEvent) (services.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, event)
	return s.result()
}

func (s *stubWebhooks) HandleTrackerUpdate(_ context.Context, event services.TrackingEvent) (services.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking = append(s.tracking, event)
	return s.result()
}

func (s *stubWebhooks) HandlePackageShipped(_ context.Context, event services.ShipmentEvent) (services.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments = append(s.shipments, event)
	return s.result()
}

type stubAdmin struct {
	mu      sync.Mutex
	filters []services.AdminOrderFilter
	updates []services.FulfillmentUpdateInput
	deleted []uuid.UUID
	order   *models.Order
	err     error
}

func (s *stubAdmin) ListOrders(_ context.Context, filter services.AdminOrderFilter) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return nil, s.err
	}
	return []*models.Order{s.order}, nil
}

func (s *stubAdmin) UpdateFulfillment(_ context.Context, _ uuid.UUID, input services.FulfillmentUpdateInput) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, input)
	return s.order, s.err
}

func (s *stubAdmin) Cancel(context.Context, uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubAdmin) Refund(context.Context, uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubAdmin) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return s.err
}

type testHandlers struct {
	*Handlers
	orders   *stubOrders
	webhooks *stubWebhooks
	admin    *stubAdmin
}

func newTestHandlers(t *testing.T) *testHandlers {
	t.Helper()

	orders := &stubOrders{order: sampleOrder()}
	webhooks := &stubWebhooks{}
	admin := &stubAdmin{order: sampleOrder()}

	h, err := New(Dependencies{
		Config: &config.Config{
			StripeWebhookSecret:   testStripeSecret,
			PrintfulWebhookSecret: testPrintfulSecret,
			EasyPostWebhookSecret: testEasyPostSecret,
		},
		DB:       stubPinger{},
		Deduper:  cache.NewDeduper(cache.NewMemoryProvider(100, time.Hour)),
		Orders:   orders,
		Webhooks: webhooks,
		Admin:    admin,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testHandlers{Handlers: h, orders: orders, webhooks: webhooks, admin: admin}
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:          uuid.MustParse("6f1c2f44-8f0e-4b8e-9d4f-0c7b8c1f2a11"),
		OwnerID:     7,
		TotalAmount: decimal.RequireFromString("25.99"),
		Status:      models.StatusPendingPayment,
	}
}

// asUser attaches verified claims the way auth.Verifier.RequireUser does.
func asUser(r *http.Request, userID int64, admin bool) *http.Request {
	claims := &auth.Claims{UserID: userID, Username: "ada", Email: "ada@example.com", Admin: admin}
	return r.WithContext(auth.WithClaims(r.Context(), claims))
}

func withOrderID(r *http.Request, id string) *http.Request {
	return mux.SetURLVars(r, map[string]string{"id": id})
}

var errDatabaseDown = errors.New("connection refused")
