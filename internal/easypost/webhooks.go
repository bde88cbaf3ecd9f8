// Package easypost verifies and decodes EasyPost tracker webhooks.
package easypost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	SignatureHeader = "X-Hmac-Signature"
	signaturePrefix = "hmac-sha256-hex="

	DescriptionTrackerUpdated = "tracker.updated"
	DescriptionTrackerCreated = "tracker.created"
)

// Tracker statuses reported by EasyPost.
const (
	StatusUnknown            = "unknown"
	StatusPreTransit         = "pre_transit"
	StatusInTransit          = "in_transit"
	StatusOutForDelivery     = "out_for_delivery"
	StatusDelivered          = "delivered"
	StatusAvailableForPickup = "available_for_pickup"
	StatusReturnToSender     = "return_to_sender"
	StatusFailure            = "failure"
	StatusCancelled          = "cancelled"
	StatusError              = "error"
)

var ErrInvalidSignature = errors.New("invalid easypost webhook signature")

// ValidateWebhook checks the X-Hmac-Signature header against an HMAC-SHA256
// of the raw body keyed with the NFKD-normalised secret.
func ValidateWebhook(payload []byte, headers http.Header, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	signature := strings.TrimSpace(headers.Get(SignatureHeader))
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value EasyPost would send for payload.
func Sign(payload []byte, secret string) string {
	key := norm.NFKD.String(secret)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

type Event struct {
	ID          string  `json:"id"`
	Object      string  `json:"object"`
	Description string  `json:"description"`
	Result      Tracker `json:"result"`
}

type Tracker struct {
	ID           string `json:"id"`
	Object       string `json:"object"`
	TrackingCode string `json:"tracking_code"`
	Status       string `json:"status"`
	Carrier      string `json:"carrier"`
	PublicURL    string `json:"public_url"`
}

func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode easypost event: %w", err)
	}
	return &event, nil
}

// IsTrackerUpdate reports whether the event carries tracker state.
func (e *Event) IsTrackerUpdate() bool {
	if e == nil {
		return false
	}
	return e.Description == DescriptionTrackerUpdated || e.Description == DescriptionTrackerCreated
}
