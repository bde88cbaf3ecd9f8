package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryProvider is bounded by size; the least recently added key is dropped
// first once it is full.
type MemoryProvider struct {
	keys *expirable.LRU[string, struct{}]
}

func NewMemoryProvider(size int, ttl time.Duration) *MemoryProvider {
	if size <= 0 {
		size = defaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultWebhookTTL
	}
	return &MemoryProvider{keys: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (m *MemoryProvider) Contains(_ context.Context, key string) (bool, error) {
	// Get, unlike Contains, honors expiry.
	_, ok := m.keys.Get(key)
	return ok, nil
}

func (m *MemoryProvider) Add(_ context.Context, key string) error {
	m.keys.Add(key, struct{}{})
	return nil
}

func (m *MemoryProvider) Len() int {
	return m.keys.Len()
}

func (m *MemoryProvider) Close() error {
	m.keys.Purge()
	return nil
}
