// Package cache keeps a short-lived record of webhook deliveries that were
// already processed, in process memory or in Redis.
package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultWebhookTTL = 24 * time.Hour
	defaultMemorySize = 10_000
)

// Provider is a set of keys that expire after the TTL the provider was
// built with.
type Provider interface {
	Contains(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
	MemorySize            int
	TTL                   time.Duration
}

func (c Config) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultWebhookTTL
	}
	return c.TTL
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider(cfg.MemorySize, cfg.ttl()), nil
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString, cfg.ttl())
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}
