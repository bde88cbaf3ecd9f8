package stripe

import (
	"errors"
	"fmt"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// SignatureHeader carries the timestamped HMAC of a webhook delivery.
const SignatureHeader = "Stripe-Signature"

// signatureTolerance bounds how old a signed delivery may be. Stripe retries
// re-sign, so a stale timestamp means a replay.
const signatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid stripe webhook signature")
	ErrMalformedEvent   = errors.New("malformed stripe event")
)

// VerifyEvent checks signature against the raw, unmodified payload and
// decodes the event. Signature failures wrap ErrInvalidSignature; anything
// wrong with a correctly signed payload wraps ErrMalformedEvent.
func VerifyEvent(payload []byte, signature, secret string) (*stripeapi.Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrTooOld):
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if event.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}
	return &event, nil
}
