package printful

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	SignatureHeader = "X-Printful-Signature"

	EventPackageShipped = "package_shipped"
)

var ErrInvalidSignature = errors.New("invalid printful webhook signature")

// ValidateSignature checks the base64 HMAC-SHA256 of the raw body.
func ValidateSignature(payload []byte, signature, secret string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign is the inverse of ValidateSignature.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type WebhookEvent struct {
	Type string      `json:"type"`
	Data WebhookData `json:"data"`
}

type WebhookData struct {
	Order struct {
		ID         json.Number `json:"id"`
		ExternalID string      `json:"external_id"`
	} `json:"order"`
	Shipment struct {
		Carrier        string `json:"carrier"`
		Service        string `json:"service"`
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
	} `json:"shipment"`
}

func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode printful webhook: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("printful webhook has no type")
	}
	return &event, nil
}
