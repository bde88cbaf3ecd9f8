package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "printshop:"
	redisDialTimeout = 5 * time.Second
)

type RedisProvider struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProvider(connectionString string, ttl time.Duration) (*RedisProvider, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse redis connection string: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultWebhookTTL
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisProvider{client: client, ttl: ttl}, nil
}

func (r *RedisProvider) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Add keeps the first write's expiry when the key is already present.
func (r *RedisProvider) Add(ctx context.Context, key string) error {
	if err := r.client.SetNX(ctx, redisKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return nil
}

func (r *RedisProvider) Close() error {
	return r.client.Close()
}
