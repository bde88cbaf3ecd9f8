// Package stripe wraps the Stripe API calls used for order payments.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

const OrderIDMetadataKey = "order_id"

// PaymentClient creates payment intents for orders.
type PaymentClient struct {
	client   *stripe.Client
	currency string
}

func NewPaymentClient(secretKey, currency string, opts ...stripe.ClientOption) *PaymentClient {
	return &PaymentClient{
		client:   stripe.NewClient(secretKey, opts...),
		currency: strings.ToLower(currency),
	}
}

func (c *PaymentClient) Currency() string {
	return c.currency
}

type PaymentIntentParams struct {
	OrderID       uuid.UUID
	Amount        decimal.Decimal
	CustomerEmail string
	Description   string
}

// PaymentIntent is the client-facing credential for confirming a payment.
type PaymentIntent struct {
	ID           string          `json:"id"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

func (c *PaymentClient) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if params.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	amount := ToMinorUnits(params.Amount)
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	intentParams := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(c.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			OrderIDMetadataKey: params.OrderID.String(),
		},
	}
	if params.CustomerEmail != "" {
		intentParams.ReceiptEmail = stripe.String(params.CustomerEmail)
	}
	if params.Description != "" {
		intentParams.Description = stripe.String(params.Description)
	}

	intent, err := c.client.V1PaymentIntents.Create(ctx, intentParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       FromMinorUnits(intent.Amount),
		Currency:     string(intent.Currency),
	}, nil
}

// PaymentIntentFromEvent decodes the payment intent carried by a
// payment_intent.* event.
func PaymentIntentFromEvent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	if event == nil || event.Data == nil {
		return nil, fmt.Errorf("event has no data")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("payment intent id is missing")
	}
	return &intent, nil
}

// ToMinorUnits converts a two-decimal amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
