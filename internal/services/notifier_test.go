package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/printshopapp/printshop/internal/email"
	"github.com/printshopapp/printshop/internal/models"
)

type captureProvider struct {
	mu     sync.Mutex
	emails []*email.Email
	err    error
}

func (p *captureProvider) SendEmail(_ context.Context, e *email.Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.emails = append(p.emails, e)
	return nil
}

func notifiedOrder() *models.Order {
	return &models.Order{
		ID:            uuid.MustParse("6f1c2a7e-0000-4000-8000-000000000001"),
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Ada",
		TotalAmount:   decimal.RequireFromString("19.98"),
		CreatedAt:     time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Items: []models.LineItem{
			{ProductName: "Poster", Quantity: 2, UnitPriceAtPurchase: decimal.RequireFromString("9.99")},
		},
		Fulfillment: &models.Fulfillment{
			Address:          testAddress(),
			ShippingProvider: "usps",
			TrackingNumber:   "9400",
		},
	}
}

func TestBuildOrderInfo(t *testing.T) {
	t.Parallel()

	info := BuildOrderInfo("Print Shop", notifiedOrder())

	if info.OrderNumber != "#6F1C2A7E" {
		t.Fatalf("order number = %q", info.OrderNumber)
	}
	if info.Total != "$19.98" || info.OrderDate != "March 4, 2026" {
		t.Fatalf("total/date = %q/%q", info.Total, info.OrderDate)
	}
	if len(info.Items) != 1 || info.Items[0].TotalPrice != "$19.98" || info.Items[0].UnitPrice != "$9.99" {
		t.Fatalf("items = %+v", info.Items)
	}
	wantAddress := []string{"1 Main St", "Springfield, IL 62704", "USA"}
	if strings.Join(info.ShippingAddress, "|") != strings.Join(wantAddress, "|") {
		t.Fatalf("address = %q", info.ShippingAddress)
	}
	if info.TrackingCarrier != "USPS" || !strings.Contains(info.TrackingURL, "tLabels=9400") {
		t.Fatalf("tracking = %q %q", info.TrackingCarrier, info.TrackingURL)
	}
}

func TestEmailNotifierSendsRenderedEmail(t *testing.T) {
	t.Parallel()

	renderer, err := email.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	provider := &captureProvider{}
	notifier, err := NewEmailNotifier(provider, renderer, "Print Shop")
	if err != nil {
		t.Fatalf("NewEmailNotifier() error = %v", err)
	}

	if err := notifier.OrderShipped(context.Background(), notifiedOrder()); err != nil {
		t.Fatalf("OrderShipped() error = %v", err)
	}
	if len(provider.emails) != 1 {
		t.Fatalf("emails = %d, want 1", len(provider.emails))
	}
	sent := provider.emails[0]
	if sent.To != "buyer@example.com" || !strings.Contains(sent.Subject, "shipped") {
		t.Fatalf("email = %q / %q", sent.To, sent.Subject)
	}
	if !strings.Contains(sent.Text, "9400") {
		t.Fatalf("text body missing tracking number: %q", sent.Text)
	}

	noEmail := notifiedOrder()
	noEmail.CustomerEmail = ""
	if err := notifier.OrderConfirmed(context.Background(), noEmail); err == nil {
		t.Fatal("expected error for order without customer email")
	}
}

func TestAsyncNotifierDoesNotBlockOrFail(t *testing.T) {
	t.Parallel()

	renderer, err := email.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	provider := &captureProvider{err: errors.New("smtp down")}
	inner, err := NewEmailNotifier(provider, renderer, "Print Shop")
	if err != nil {
		t.Fatalf("NewEmailNotifier() error = %v", err)
	}
	async := NewAsyncNotifier(inner, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := async.OrderConfirmed(ctx, notifiedOrder()); err != nil {
		t.Fatalf("OrderConfirmed() error = %v, async dispatch never fails", err)
	}
	cancel()
	async.Close()

	recording := &recordingNotifier{}
	async = NewAsyncNotifier(recording, time.Second, nil)
	ctx, cancel = context.WithCancel(context.Background())
	_ = async.OrderDelivered(ctx, notifiedOrder())
	cancel()
	async.Close()
	if sent := recording.sent(); len(sent) != 1 || !strings.HasPrefix(sent[0], "delivered:") {
		t.Fatalf("notifications = %v, want delivery despite caller cancellation", sent)
	}
}
