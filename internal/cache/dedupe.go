package cache

import (
	"context"
	"strings"
)

// Deduper remembers processed webhook event ids. It is a first-line filter
// only; handlers stay idempotent against the database when it misses.
type Deduper struct {
	provider Provider
}

func NewDeduper(provider Provider) *Deduper {
	return &Deduper{provider: provider}
}

// WebhookKey namespaces an event id by the system that sent it.
func WebhookKey(source, eventID string) string {
	return "webhook:" + strings.ToLower(source) + ":" + eventID
}

// Seen reports whether the event was already marked. Cache failures report
// false together with the error.
func (d *Deduper) Seen(ctx context.Context, source, eventID string) (bool, error) {
	if d == nil || d.provider == nil || eventID == "" {
		return false, nil
	}
	return d.provider.Contains(ctx, WebhookKey(source, eventID))
}

func (d *Deduper) Mark(ctx context.Context, source, eventID string) error {
	if d == nil || d.provider == nil || eventID == "" {
		return nil
	}
	return d.provider.Add(ctx, WebhookKey(source, eventID))
}
