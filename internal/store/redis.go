package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ BarCache = (*RedisCache)(nil)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "breakout:bars:"

// RedisCache implements BarCache with one JSON value per key. Writes use
// SET NX so the first writer wins.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to addr. A zero ttl keeps entries forever.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheFromClient(client, ttl)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: DefaultRedisPrefix, ttl: ttl}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) redisKey(key CacheKey) string {
	return c.prefix + key.String()
}

// Get decodes the stored series. redis.Nil is a miss.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) ([]domain.Bar, bool, error) {
	payload, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var bars []domain.Bar
	if err := json.Unmarshal(payload, &bars); err != nil {
		return nil, false, fmt.Errorf("decoding cached bars for %s: %w", key, err)
	}
	return bars, true, nil
}

// Put stores bars with SET NX.
func (c *RedisCache) Put(ctx context.Context, key CacheKey, bars []domain.Bar) error {
	payload, err := encodeBars(bars)
	if err != nil {
		return fmt.Errorf("encoding bars for %s: %w", key, err)
	}
	if err := c.client.SetNX(ctx, c.redisKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return nil
}

func encodeBars(bars []domain.Bar) ([]byte, error) {
	if bars == nil {
		bars = []domain.Bar{}
	}
	return json.Marshal(bars)
}
