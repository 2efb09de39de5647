// Package redis implements the crawl coordination store on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
)

// Config tunes key naming.
type Config struct {
	// KeyPrefix is prepended to every key, e.g. "brand-" yields
	// "brand-crawler:<tenant>:lock".
	KeyPrefix string
}

// deleteIfEqual removes KEYS[1] only while it holds ARGV[1].
var deleteIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// compareAndSwap replaces KEYS[1] with ARGV[2] and a PX of ARGV[3] only while
// it holds ARGV[1].
var compareAndSwap = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// KVStore implements brand.KVStore. SetNX maps onto SET NX EX, which Redis
// executes atomically.
type KVStore struct {
	client redis.UniversalClient
	prefix string
}

// New wraps an existing go-redis client.
func New(client redis.UniversalClient, cfg Config) (*KVStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &KVStore{client: client, prefix: cfg.KeyPrefix}, nil
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// SetNX stores value only if key is absent.
func (s *KVStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// Set stores value unconditionally with ttl.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the value or brand.ErrKeyNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, brand.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// CompareAndSwap replaces key's value and resets its ttl if the current value
// equals oldValue.
func (s *KVStore) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	n, err := compareAndSwap.Run(ctx, s.client, []string{s.key(key)}, oldValue, newValue, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-swap %s: %w", key, err)
	}
	return n == 1, nil
}

// DeleteIfEqual removes key if its current value equals value. The check and
// the delete run as one Lua script.
func (s *KVStore) DeleteIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := deleteIfEqual.Run(ctx, s.client, []string{s.key(key)}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Ping checks that Redis is reachable.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *KVStore) key(key string) string {
	return s.prefix + key
}
