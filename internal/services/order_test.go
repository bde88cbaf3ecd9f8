package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/printshopapp/printshop/internal/models"
	"github.com/printshopapp/printshop/internal/printful"
)

var buyer = Actor{UserID: 1, Email: "buyer@example.com", Name: "Buyer"}

func poster() models.Product {
	return models.Product{ID: 5, Name: "Poster", Price: decimal.RequireFromString("9.99")}
}

func printedShirt() models.Product {
	return models.Product{ID: 7, Name: "Shirt", Price: decimal.RequireFromString("25.00"), ProviderFulfilled: true, ProviderVariantID: 4012}
}

func newTestOrderService(ledger *fakeLedger, provider *fakeProvider) (*OrderService, *fakeGateway) {
	gateway := &fakeGateway{}
	var p FulfillmentProvider
	if provider != nil {
		p = provider
	}
	submitter := NewFulfillmentSubmitter(ledger, p, 0, nil)
	return NewOrderService(ledger, gateway, submitter, nil), gateway
}

func TestSubmitOrderSnapshotsPrices(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(poster())
	svc, _ := newTestOrderService(ledger, nil)

	order, err := svc.Submit(context.Background(), buyer, SubmitOrderInput{
		Items:   []OrderItemInput{{ProductID: 5, Quantity: 2}},
		Address: testAddress(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if !order.TotalAmount.Equal(decimal.RequireFromString("19.98")) {
		t.Fatalf("total = %s, want 19.98", order.TotalAmount)
	}
	if order.Status != models.StatusPendingPayment {
		t.Fatalf("status = %s, want pending_payment", order.Status)
	}
	if order.Fulfillment == nil || order.Fulfillment.Status != models.FulfillmentUnfulfilled {
		t.Fatalf("fulfillment = %+v, want unfulfilled", order.Fulfillment)
	}
	if order.NeedsFulfillmentSubmission {
		t.Fatal("local-only order must not need provider submission")
	}

	stored := ledger.order(t, order.ID)
	if len(stored.Items) != 1 || !stored.Items[0].UnitPriceAtPurchase.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("stored items = %+v", stored.Items)
	}
	if stored.OwnerID != buyer.UserID || stored.CustomerEmail != buyer.Email {
		t.Fatalf("stored owner = %d/%q", stored.OwnerID, stored.CustomerEmail)
	}
}

func TestSubmitOrderTotalMatchesLineItems(t *testing.T) {
	t.Parallel()

	products := []models.Product{
		{ID: 1, Name: "A", Price: decimal.RequireFromString("0.10")},
		{ID: 2, Name: "B", Price: decimal.RequireFromString("3.33")},
		{ID: 3, Name: "C", Price: decimal.RequireFromString("120.05")},
	}

	tests := []struct {
		name  string
		items []OrderItemInput
		want  string
	}{
		{
			name:  "single cheap item many times",
			items: []OrderItemInput{{ProductID: 1, Quantity: 7}},
			want:  "0.70",
		},
		{
			name:  "repeating decimals",
			items: []OrderItemInput{{ProductID: 2, Quantity: 3}, {ProductID: 1, Quantity: 1}},
			want:  "10.09",
		},
		{
			name:  "same product twice",
			items: []OrderItemInput{{ProductID: 3, Quantity: 1}, {ProductID: 3, Quantity: 2}},
			want:  "360.15",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ledger := newFakeLedger(products...)
			svc, _ := newTestOrderService(ledger, nil)
			order, err := svc.Submit(context.Background(), buyer, SubmitOrderInput{Items: tc.items, Address: testAddress()})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}

			sum := decimal.Zero
			for _, item := range order.Items {
				sum = sum.Add(item.Subtotal())
			}
			if !order.TotalAmount.Equal(sum) {
				t.Fatalf("total %s != line item sum %s", order.TotalAmount, sum)
			}
			if !order.TotalAmount.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("total = %s, want %s", order.TotalAmount, tc.want)
			}
			if len(order.Items) != len(tc.items) {
				t.Fatalf("items = %d, want %d", len(order.Items), len(tc.items))
			}
		})
	}
}

func TestSubmitOrderRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	historic := models.Product{ID: 9, Name: "Sold", Price: decimal.RequireFromString("5.00"), Historic: true}

	missingCity := testAddress()
	missingCity.City = " "

	tests := []struct {
		name  string
		input SubmitOrderInput
		field string
	}{
		{
			name:  "no items",
			input: SubmitOrderInput{Address: testAddress()},
			field: "items",
		},
		{
			name:  "zero quantity",
			input: SubmitOrderInput{Items: []OrderItemInput{{ProductID: 5, Quantity: 0}}, Address: testAddress()},
			field: "items[0].quantity",
		},
		{
			name:  "missing city",
			input: SubmitOrderInput{Items: []OrderItemInput{{ProductID: 5, Quantity: 1}}, Address: missingCity},
			field: "fulfillmentDetails.city",
		},
		{
			name:  "unknown product",
			input: SubmitOrderInput{Items: []OrderItemInput{{ProductID: 404, Quantity: 1}}, Address: testAddress()},
			field: "items[0].product_id",
		},
		{
			name:  "historic product",
			input: SubmitOrderInput{Items: []OrderItemInput{{ProductID: 5, Quantity: 1}, {ProductID: 9, Quantity: 1}}, Address: testAddress()},
			field: "items[1].product_id",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ledger := newFakeLedger(poster(), historic)
			svc, _ := newTestOrderService(ledger, nil)

			_, err := svc.Submit(context.Background(), buyer, tc.input)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Submit() error = %v, want validation error", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Fields[tc.field] == "" {
				t.Fatalf("validation fields = %v, want %q", verr, tc.field)
			}
			if ledger.commits != 0 || len(ledger.orders) != 0 {
				t.Fatal("invalid submission must not write")
			}
		})
	}
}

func TestSubmitOrderSendsOnlyProviderItems(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(poster(), printedShirt())
	provider := &fakeProvider{}
	svc, _ := newTestOrderService(ledger, provider)

	order, err := svc.Submit(context.Background(), buyer, SubmitOrderInput{
		Items:   []OrderItemInput{{ProductID: 5, Quantity: 1}, {ProductID: 7, Quantity: 3}},
		Address: testAddress(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	calls := provider.calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	req := calls[0]
	if len(req.Items) != 1 || req.Items[0] != (printful.Item{VariantID: 4012, Quantity: 3}) {
		t.Fatalf("provider items = %+v, want only the shirt variant", req.Items)
	}
	if req.Recipient.Address1 != "1 Main St" || req.Recipient.CountryCode != "US" || req.Recipient.Zip != "62704" {
		t.Fatalf("recipient = %+v", req.Recipient)
	}

	stored := ledger.order(t, order.ID)
	if stored.ExternalFulfillmentReference != "pf-1" {
		t.Fatalf("reference = %q, want pf-1", stored.ExternalFulfillmentReference)
	}
	if stored.NeedsFulfillmentSubmission {
		t.Fatal("retry flag must be cleared after acceptance")
	}
	if stored.Fulfillment.Status != models.FulfillmentProcessing {
		t.Fatalf("fulfillment = %s, want processing", stored.Fulfillment.Status)
	}
	if stored.Status != models.StatusPendingPayment {
		t.Fatalf("status = %s, submission must not touch order status", stored.Status)
	}
}

func TestSubmitOrderKeepsOrderWhenProviderFails(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(printedShirt())
	provider := &fakeProvider{err: &printful.APIError{StatusCode: 400, Message: "invalid variant"}}
	svc, _ := newTestOrderService(ledger, provider)

	order, err := svc.Submit(context.Background(), buyer, SubmitOrderInput{
		Items:   []OrderItemInput{{ProductID: 7, Quantity: 1}},
		Address: testAddress(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v, provider failure must not fail the order", err)
	}

	stored := ledger.order(t, order.ID)
	if !stored.NeedsFulfillmentSubmission {
		t.Fatal("order must stay flagged for retry")
	}
	if stored.FulfillmentSubmissionAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", stored.FulfillmentSubmissionAttempts)
	}
	if stored.FulfillmentSubmissionError != "provider returned 400: invalid variant" {
		t.Fatalf("error = %q", stored.FulfillmentSubmissionError)
	}
	if stored.ExternalFulfillmentReference != "" {
		t.Fatalf("reference = %q, want empty", stored.ExternalFulfillmentReference)
	}
}

func TestSubmitOrderWithoutProviderFlagsOrder(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(printedShirt())
	svc, _ := newTestOrderService(ledger, nil)

	order, err := svc.Submit(context.Background(), buyer, SubmitOrderInput{
		Items:   []OrderItemInput{{ProductID: 7, Quantity: 1}},
		Address: testAddress(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if stored := ledger.order(t, order.ID); !stored.NeedsFulfillmentSubmission || stored.FulfillmentSubmissionAttempts != 0 {
		t.Fatalf("stored = %+v, want flagged and untried", stored)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		actor       Actor
		status      models.OrderStatus
		fulfillment models.FulfillmentStatus
		wantErr     error
	}{
		{
			name:   "pending payment",
			actor:  buyer,
			status: models.StatusPendingPayment,
		},
		{
			name:   "processing unfulfilled",
			actor:  buyer,
			status: models.StatusProcessing,
		},
		{
			name:        "submitted to provider",
			actor:       buyer,
			status:      models.StatusProcessing,
			fulfillment: models.FulfillmentProcessing,
			wantErr:     ErrConflict,
		},
		{
			name:        "shipped",
			actor:       buyer,
			status:      models.StatusShipped,
			fulfillment: models.FulfillmentShipped,
			wantErr:     ErrConflict,
		},
		{
			name:    "already cancelled",
			actor:   buyer,
			status:  models.StatusCancelled,
			wantErr: ErrConflict,
		},
		{
			name:    "someone else's order",
			actor:   Actor{UserID: 2},
			status:  models.StatusPendingPayment,
			wantErr: ErrForbidden,
		},
		{
			name:   "admin on someone else's order",
			actor:  Actor{UserID: 2, Admin: true},
			status: models.StatusPendingPayment,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ledger := newFakeLedger(poster())
			seeded := ledger.seed(seedOptions{status: tc.status, fulfillment: tc.fulfillment})
			svc, _ := newTestOrderService(ledger, nil)

			order, err := svc.Cancel(context.Background(), tc.actor, seeded.ID)
			stored := ledger.order(t, seeded.ID)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Cancel() error = %v, want %v", err, tc.wantErr)
				}
				if stored.Status != tc.status {
					t.Fatalf("status changed to %s on failed cancel", stored.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Cancel() error = %v", err)
			}
			if order.Status != models.StatusCancelled || stored.Status != models.StatusCancelled {
				t.Fatalf("status = %s/%s, want cancelled", order.Status, stored.Status)
			}
		})
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestOrderService(newFakeLedger(), nil)
	if _, err := svc.Cancel(context.Background(), buyer, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want not found", err)
	}
}

func TestCancelPaidOrderRestoresProducts(t *testing.T) {
	t.Parallel()

	product := poster()
	product.Historic = true
	ledger := newFakeLedger(product)
	seeded := ledger.seed(seedOptions{status: models.StatusProcessing})
	svc, _ := newTestOrderService(ledger, nil)

	if _, err := svc.Cancel(context.Background(), buyer, seeded.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if ledger.product(5).Historic {
		t.Fatal("product must be current again after cancelling a paid order")
	}
}

func TestCancelUnpaidOrderLeavesProducts(t *testing.T) {
	t.Parallel()

	product := poster()
	product.Historic = true
	ledger := newFakeLedger(product)
	seeded := ledger.seed(seedOptions{status: models.StatusPendingPayment})
	svc, _ := newTestOrderService(ledger, nil)

	if _, err := svc.Cancel(context.Background(), buyer, seeded.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !ledger.product(5).Historic {
		t.Fatal("an unpaid order never retired the product and must not restore it")
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(poster())
	seeded := ledger.seed(seedOptions{})
	svc, _ := newTestOrderService(ledger, nil)

	if _, err := svc.Get(context.Background(), Actor{UserID: 99}, seeded.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Get() error = %v, want forbidden", err)
	}
	order, err := svc.Get(context.Background(), buyer, seeded.ID)
	if err != nil || order.ID != seeded.ID {
		t.Fatalf("Get() = %v, %v", order, err)
	}
}

func TestListOrdersStatusFilter(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(poster())
	ledger.seed(seedOptions{status: models.StatusPendingPayment})
	ledger.seed(seedOptions{status: models.StatusShipped, fulfillment: models.FulfillmentShipped})
	ledger.seed(seedOptions{status: models.StatusDelivered, fulfillment: models.FulfillmentDelivered})
	ledger.seed(seedOptions{status: models.StatusCancelled})
	ledger.seed(seedOptions{owner: 2, status: models.StatusPendingPayment})
	svc, _ := newTestOrderService(ledger, nil)

	tests := []struct {
		filter  string
		want    int
		wantErr bool
	}{
		{filter: "", want: 4},
		{filter: "open", want: 2},
		{filter: "CLOSED", want: 2},
		{filter: "shipped", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run("filter_"+tc.filter, func(t *testing.T) {
			t.Parallel()

			orders, err := svc.List(context.Background(), buyer, tc.filter)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("List() error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(orders) != tc.want {
				t.Fatalf("List() = %d orders, want %d", len(orders), tc.want)
			}
		})
	}
}

func TestCreatePaymentIntentRecordsPendingAttempt(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(poster())
	seeded := ledger.seed(seedOptions{})
	svc, gateway := newTestOrderService(ledger, nil)

	intent, err := svc.CreatePaymentIntent(context.Background(), buyer, seeded.ID)
	if err != nil {
		t.Fatalf("CreatePaymentIntent() error = %v", err)
	}
	if intent.ClientSecret == "" {
		t.Fatal("client secret missing")
	}
	if len(gateway.params) != 1 || !gateway.params[0].Amount.Equal(seeded.TotalAmount) || gateway.params[0].OrderID != seeded.ID {
		t.Fatalf("gateway params = %+v", gateway.params)
	}

	stored := ledger.order(t, seeded.ID)
	if len(stored.Payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(stored.Payments))
	}
	p := stored.Payments[0]
	if p.Status != models.PaymentPending || p.ExternalTransactionID != intent.ID || p.Method != "stripe" {
		t.Fatalf("payment = %+v", p)
	}
}

func TestCreatePaymentIntentConflicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts seedOptions
	}{
		{
			name: "already paid",
			opts: seedOptions{status: models.StatusPendingPayment, payments: []models.Payment{{Status: models.PaymentSucceeded, ExternalTransactionID: "pi_old"}}},
		},
		{
			name: "not awaiting payment",
			opts: seedOptions{status: models.StatusCancelled},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ledger := newFakeLedger(poster())
			seeded := ledger.seed(tc.opts)
			svc, gateway := newTestOrderService(ledger, nil)

			if _, err := svc.CreatePaymentIntent(context.Background(), buyer, seeded.ID); !errors.Is(err, ErrConflict) {
				t.Fatalf("CreatePaymentIntent() error = %v, want conflict", err)
			}
			if len(gateway.params) != 0 {
				t.Fatal("gateway must not be called")
			}
		})
	}
}

func TestCreatePaymentIntentGatewayFailure(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger(poster())
	seeded := ledger.seed(seedOptions{})
	svc, gateway := newTestOrderService(ledger, nil)
	gateway.err = errors.New("stripe down")

	if _, err := svc.CreatePaymentIntent(context.Background(), buyer, seeded.ID); !errors.Is(err, ErrExternalService) {
		t.Fatalf("CreatePaymentIntent() error = %v, want external service error", err)
	}
	if stored := ledger.order(t, seeded.ID); len(stored.Payments) != 0 {
		t.Fatal("no payment attempt should be recorded")
	}
}

func TestUpdateShippingAddress(t *testing.T) {
	t.Parallel()

	updated := models.Address{Line1: " 2 Oak Ave ", City: "Chicago", State: "IL", PostalCode: "60601", Country: "US"}

	tests := []struct {
		name        string
		fulfillment models.FulfillmentStatus
		address     models.Address
		wantErr     error
	}{
		{
			name:    "unfulfilled",
			address: updated,
		},
		{
			name:        "frozen after submission",
			fulfillment: models.FulfillmentProcessing,
			address:     updated,
			wantErr:     ErrConflict,
		},
		{
			name:    "missing postal code",
			address: models.Address{Line1: "2 Oak Ave", City: "Chicago", State: "IL", Country: "US"},
			wantErr: ErrValidation,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ledger := newFakeLedger(poster())
			seeded := ledger.seed(seedOptions{fulfillment: tc.fulfillment})
			svc, _ := newTestOrderService(ledger, nil)

			order, err := svc.UpdateShippingAddress(context.Background(), buyer, seeded.ID, tc.address)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("UpdateShippingAddress() error = %v, want %v", err, tc.wantErr)
				}
				if got := ledger.order(t, seeded.ID).Fulfillment.Address; got != testAddress() {
					t.Fatalf("address changed to %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateShippingAddress() error = %v", err)
			}
			if order.Fulfillment.Address.Line1 != "2 Oak Ave" {
				t.Fatalf("address = %+v", order.Fulfillment.Address)
			}
			if got := ledger.order(t, seeded.ID).Fulfillment.Address.City; got != "Chicago" {
				t.Fatalf("stored city = %q", got)
			}
		})
	}
}
