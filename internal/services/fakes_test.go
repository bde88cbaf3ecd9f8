package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/printful"
	"github.com/printshopapp/printshop/internal/stripe"
)

// fakeLedger is an in-memory Ledger. Transactions are serialised by mu and
// roll back to a snapshot when fn fails.
type fakeLedger struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*models.Order
	products map[int64]models.Product
	nextID   int64
	failures map[string]error
	commits  int

	// claimedUntil is the retry lease per order.
	claimedUntil map[uuid.UUID]time.Time
}

func newFakeLedger(products ...models.Product) *fakeLedger {
	l := &fakeLedger{
		orders:       make(map[uuid.UUID]*models.Order),
		products:     make(map[int64]models.Product),
		failures:     make(map[string]error),
		claimedUntil: make(map[uuid.UUID]time.Time),
	}
	for _, p := range products {
		l.products[p.ID] = p
	}
	return l
}

func (l *fakeLedger) failOn(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op] = err
}

func (l *fakeLedger) fail(op string) error {
	return l.failures[op]
}

func (l *fakeLedger) id() int64 {
	l.nextID++
	return l.nextID
}

func (l *fakeLedger) InTx(ctx context.Context, fn func(db.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fail("InTx"); err != nil {
		return err
	}

	orders := make(map[uuid.UUID]*models.Order, len(l.orders))
	for id, order := range l.orders {
		orders[id] = cloneOrder(order)
	}
	products := make(map[int64]models.Product, len(l.products))
	for id, p := range l.products {
		products[id] = p
	}
	nextID := l.nextID

	if err := fn(&fakeTx{l: l}); err != nil {
		l.orders = orders
		l.products = products
		l.nextID = nextID
		return err
	}
	l.commits++
	return nil
}

func (l *fakeLedger) Ping(context.Context) error {
	return l.fail("Ping")
}

func (l *fakeLedger) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail("GetOrder"); err != nil {
		return nil, err
	}
	order, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("get order: %w", db.ErrNotFound)
	}
	return cloneOrder(order), nil
}

func (l *fakeLedger) ListOrders(_ context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.Order
	for _, order := range l.orders {
		if filter.OwnerID != 0 && order.OwnerID != filter.OwnerID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.Status) {
			continue
		}
		clone := cloneOrder(order)
		clone.Payments = nil
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *fakeLedger) ClaimPendingSubmissions(_ context.Context, claim db.SubmissionClaim) ([]*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	var out []*models.Order
	for id, order := range l.orders {
		if !order.NeedsFulfillmentSubmission || order.FulfillmentSubmissionAttempts >= claim.MaxAttempts {
			continue
		}
		if order.Status != models.StatusPendingPayment && order.Status != models.StatusProcessing {
			continue
		}
		if !order.CreatedAt.Before(claim.CreatedBefore) || l.claimedUntil[id].After(now) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > claim.Limit {
		out = out[:claim.Limit]
	}
	for _, order := range out {
		l.claimedUntil[order.ID] = now.Add(claim.Lease)
	}
	return out, nil
}

func (l *fakeLedger) GetProducts(_ context.Context, ids []int64) (map[int64]models.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail("GetProducts"); err != nil {
		return nil, err
	}
	out := make(map[int64]models.Product)
	for _, id := range ids {
		if p, ok := l.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (l *fakeLedger) FindOrderIDByTrackingNumber(_ context.Context, trackingNumber string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, order := range l.orders {
		if order.Fulfillment != nil && order.Fulfillment.TrackingNumber == trackingNumber {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("find order by tracking number: %w", db.ErrNotFound)
}

func (l *fakeLedger) FindOrderIDByExternalReference(_ context.Context, reference string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, order := range l.orders {
		if order.ExternalFulfillmentReference == reference {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("find order by external reference: %w", db.ErrNotFound)
}

// order returns a copy of the stored order for assertions.
func (l *fakeLedger) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return cloneOrder(order)
}

func (l *fakeLedger) product(id int64) models.Product {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.products[id]
}

type seedOptions struct {
	owner       int64
	status      models.OrderStatus
	fulfillment models.FulfillmentStatus
	tracking    string
	reference   string
	items       []models.LineItem
	payments    []models.Payment
	needsSubmit bool
	createdAt   time.Time
}

// seed stores an order directly, bypassing the services.
func (l *fakeLedger) seed(opts seedOptions) *models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	if opts.owner == 0 {
		opts.owner = 1
	}
	if opts.status == "" {
		opts.status = models.StatusPendingPayment
	}
	if opts.fulfillment == "" {
		opts.fulfillment = models.FulfillmentUnfulfilled
	}
	if opts.createdAt.IsZero() {
		opts.createdAt = time.Now().Add(-time.Hour)
	}
	if opts.items == nil {
		opts.items = []models.LineItem{{ProductID: 5, ProductName: "Poster", Quantity: 2, UnitPriceAtPurchase: decimal.RequireFromString("9.99")}}
	}

	order := &models.Order{
		ID:                           uuid.New(),
		OwnerID:                      opts.owner,
		CustomerEmail:                "buyer@example.com",
		CustomerName:                 "Buyer",
		Status:                       opts.status,
		ExternalFulfillmentReference: opts.reference,
		NeedsFulfillmentSubmission:   opts.needsSubmit,
		CreatedAt:                    opts.createdAt,
		UpdatedAt:                    opts.createdAt,
		Payments:                     opts.payments,
		Fulfillment: &models.Fulfillment{
			ID:             l.id(),
			Address:        testAddress(),
			Status:         opts.fulfillment,
			TrackingNumber: opts.tracking,
			CreatedAt:      opts.createdAt,
			UpdatedAt:      opts.createdAt,
		},
	}
	total := decimal.Zero
	for _, item := range opts.items {
		item.ID = l.id()
		item.OrderID = order.ID
		total = total.Add(item.Subtotal())
		order.Items = append(order.Items, item)
	}
	order.TotalAmount = total
	order.Fulfillment.OrderID = order.ID
	if opts.fulfillment == models.FulfillmentShipped || opts.fulfillment == models.FulfillmentDelivered {
		order.Fulfillment.ShippedAt = opts.createdAt
	}
	if opts.fulfillment == models.FulfillmentDelivered {
		order.Fulfillment.DeliveredAt = opts.createdAt
	}
	for i := range order.Payments {
		order.Payments[i].ID = l.id()
		order.Payments[i].OrderID = order.ID
	}

	l.orders[order.ID] = order
	return cloneOrder(order)
}

type fakeTx struct {
	l *fakeLedger
}

func (t *fakeTx) InsertOrder(_ context.Context, order *models.Order) error {
	if err := t.l.fail("InsertOrder"); err != nil {
		return err
	}
	if _, exists := t.l.orders[order.ID]; exists {
		return fmt.Errorf("insert order: %w", db.ErrDuplicate)
	}
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		order.Items[i].ID = t.l.id()
		order.Items[i].OrderID = order.ID
		if _, ok := t.l.products[order.Items[i].ProductID]; !ok {
			return fmt.Errorf("insert order line item: unknown product")
		}
	}
	if f := order.Fulfillment; f != nil {
		f.ID = t.l.id()
		f.OrderID = order.ID
		f.CreatedAt, f.UpdatedAt = now, now
	}
	t.l.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *fakeTx) LockOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	if err := t.l.fail("LockOrder"); err != nil {
		return nil, err
	}
	order, ok := t.l.orders[id]
	if !ok {
		return nil, fmt.Errorf("lock order: %w", db.ErrNotFound)
	}
	return cloneOrder(order), nil
}

func (t *fakeTx) TransitionOrder(_ context.Context, id uuid.UUID, transition models.OrderTransition) (bool, error) {
	if err := t.l.fail("TransitionOrder"); err != nil {
		return false, err
	}
	order, ok := t.l.orders[id]
	if !ok || !transition.Allows(order.Status) {
		return false, nil
	}
	order.Status = transition.To
	order.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (t *fakeTx) SavePayment(_ context.Context, payment *models.Payment) error {
	if err := t.l.fail("SavePayment"); err != nil {
		return err
	}
	order, ok := t.l.orders[payment.OrderID]
	if !ok {
		return fmt.Errorf("insert payment record: %w", db.ErrNotFound)
	}
	if payment.Status == models.PaymentSucceeded {
		for _, existing := range order.Payments {
			if existing.Status == models.PaymentSucceeded {
				return fmt.Errorf("insert payment record: %w", db.ErrDuplicate)
			}
		}
	}
	if payment.ExternalTransactionID != "" && payment.Status != models.PaymentPending {
		for i := range order.Payments {
			existing := &order.Payments[i]
			if existing.ExternalTransactionID == payment.ExternalTransactionID && existing.Status == models.PaymentPending {
				existing.Status = payment.Status
				existing.AmountCharged = payment.AmountCharged
				existing.Currency = payment.Currency
				payment.ID = existing.ID
				payment.Method = existing.Method
				payment.CreatedAt = existing.CreatedAt
				return nil
			}
		}
	}
	payment.ID = t.l.id()
	payment.CreatedAt = time.Now().UTC()
	order.Payments = append(order.Payments, *payment)
	return nil
}

func (t *fakeTx) SetProductsHistoric(_ context.Context, productIDs []int64, historic bool) error {
	if err := t.l.fail("SetProductsHistoric"); err != nil {
		return err
	}
	for _, id := range productIDs {
		if p, ok := t.l.products[id]; ok {
			p.Historic = historic
			t.l.products[id] = p
		}
	}
	return nil
}

func (t *fakeTx) AdvanceFulfillment(_ context.Context, orderID uuid.UUID, update models.FulfillmentUpdate) (bool, error) {
	if err := t.l.fail("AdvanceFulfillment"); err != nil {
		return false, err
	}
	order, ok := t.l.orders[orderID]
	if !ok || order.Fulfillment == nil || !slices.Contains(update.From, order.Fulfillment.Status) {
		return false, nil
	}
	f := order.Fulfillment
	now := time.Now().UTC()
	f.Status = update.To
	if update.ShippingProvider != "" {
		f.ShippingProvider = update.ShippingProvider
	}
	if update.TrackingNumber != "" {
		f.TrackingNumber = update.TrackingNumber
	}
	if update.TrackingURL != "" {
		f.TrackingURL = update.TrackingURL
	}
	if update.StampShipped && f.ShippedAt.IsZero() {
		f.ShippedAt = now
	}
	if update.StampDelivered && f.DeliveredAt.IsZero() {
		f.DeliveredAt = now
	}
	f.UpdatedAt = now
	return true, nil
}

func (t *fakeTx) UpdateShippingAddress(_ context.Context, orderID uuid.UUID, address models.Address) (bool, error) {
	order, ok := t.l.orders[orderID]
	if !ok || order.Fulfillment == nil || order.Fulfillment.Status != models.FulfillmentUnfulfilled {
		return false, nil
	}
	order.Fulfillment.Address = address
	return true, nil
}

func (t *fakeTx) CompleteFulfillmentSubmission(_ context.Context, orderID uuid.UUID, reference string) error {
	if err := t.l.fail("CompleteFulfillmentSubmission"); err != nil {
		return err
	}
	order, ok := t.l.orders[orderID]
	if !ok {
		return fmt.Errorf("record fulfillment reference: %w", db.ErrNotFound)
	}
	delete(t.l.claimedUntil, orderID)
	order.ExternalFulfillmentReference = reference
	order.NeedsFulfillmentSubmission = false
	order.FulfillmentSubmissionAttempts++
	order.FulfillmentSubmissionError = ""
	if order.Fulfillment != nil && order.Fulfillment.Status == models.FulfillmentUnfulfilled {
		order.Fulfillment.Status = models.FulfillmentProcessing
	}
	return nil
}

func (t *fakeTx) RecordFulfillmentSubmissionFailure(_ context.Context, orderID uuid.UUID, reason string) error {
	order, ok := t.l.orders[orderID]
	if !ok {
		return fmt.Errorf("record fulfillment submission failure: %w", db.ErrNotFound)
	}
	delete(t.l.claimedUntil, orderID)
	order.FulfillmentSubmissionAttempts++
	order.FulfillmentSubmissionError = reason
	return nil
}

func (t *fakeTx) DeleteOrder(_ context.Context, id uuid.UUID) error {
	if _, ok := t.l.orders[id]; !ok {
		return fmt.Errorf("delete order: %w", db.ErrNotFound)
	}
	delete(t.l.orders, id)
	return nil
}

func cloneOrder(order *models.Order) *models.Order {
	if order == nil {
		return nil
	}
	clone := *order
	clone.Items = slices.Clone(order.Items)
	clone.Payments = slices.Clone(order.Payments)
	if order.Fulfillment != nil {
		f := *order.Fulfillment
		clone.Fulfillment = &f
	}
	return &clone
}

// fakeProvider stores created orders by external id. A repeated external id
// is rejected the way the provider rejects duplicates.
type fakeProvider struct {
	mu       sync.Mutex
	requests []printful.OrderRequest
	lookups  []string
	err      error
	// lostResponses is how many creates are stored but answered with
	// context.DeadlineExceeded.
	lostResponses int
	lookupErr     error
	orders        map[string]*printful.CreatedOrder
	nextID        int
}

func (p *fakeProvider) CreateOrder(_ context.Context, order printful.OrderRequest) (*printful.CreatedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, order)
	if p.err != nil {
		return nil, p.err
	}
	if _, exists := p.orders[order.ExternalID]; exists {
		return nil, &printful.APIError{StatusCode: 400, Message: "Order with this external_id already exists"}
	}
	p.nextID++
	created := &printful.CreatedOrder{ID: fmt.Sprintf("pf-%d", p.nextID), Status: "draft"}
	if p.orders == nil {
		p.orders = make(map[string]*printful.CreatedOrder)
	}
	p.orders[order.ExternalID] = created
	if p.lostResponses > 0 {
		p.lostResponses--
		return nil, context.DeadlineExceeded
	}
	return created, nil
}

func (p *fakeProvider) GetOrder(_ context.Context, externalID string) (*printful.CreatedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, externalID)
	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	created, ok := p.orders[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: external id %s", printful.ErrOrderNotFound, externalID)
	}
	return created, nil
}

func (p *fakeProvider) setLookupErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookupErr = err
}

func (p *fakeProvider) calls() []printful.OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

type fakeGateway struct {
	params []stripe.PaymentIntentParams
	err    error
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, params stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	g.params = append(g.params, params)
	if g.err != nil {
		return nil, g.err
	}
	return &stripe.PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", len(g.params)),
		ClientSecret: "secret",
		Amount:       params.Amount,
		Currency:     "usd",
	}, nil
}

func (g *fakeGateway) Currency() string {
	return "usd"
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(kind string, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind+":"+order.ID.String())
	return nil
}

func (n *recordingNotifier) OrderConfirmed(_ context.Context, order *models.Order) error {
	return n.record("confirmed", order)
}

func (n *recordingNotifier) OrderShipped(_ context.Context, order *models.Order) error {
	return n.record("shipped", order)
}

func (n *recordingNotifier) OrderDelivered(_ context.Context, order *models.Order) error {
	return n.record("delivered", order)
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.events)
}

func testAddress() models.Address {
	return models.Address{
		Line1:      "1 Main St",
		City:       "Springfield",
		State:      "IL",
		PostalCode: "62704",
		Country:    "USA",
	}
}
