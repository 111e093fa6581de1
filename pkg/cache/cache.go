package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Factory produces a value on a cache miss. ok=false means "no value"
// and is never stored.
type Factory[T any] func(ctx context.Context) (value T, ok bool, err error)

// Cache is a typed key/value store with per-entry TTL.
type Cache[T any] interface {
	// GetOrCreate returns the cached value for key, or runs factory on a miss
	// and stores a present result for ttl. Factory errors are returned as is.
	GetOrCreate(ctx context.Context, key string, factory Factory[T], ttl time.Duration) (T, bool, error)

	// Get returns the unexpired value for key.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores value for ttl. A ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value T, ttl time.Duration)

	// Remove deletes key.
	Remove(ctx context.Context, key string)
}

// Backend names used as metric labels and in logs.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New selects the backend once: Redis when redisClient is non-nil, the
// in-process LRU of memorySize entries otherwise.
func New[T any](redisClient *redis.Client, prefix string, memorySize int, logger zerolog.Logger) (Cache[T], error) {
	if redisClient != nil {
		return NewRedis[T](redisClient, prefix, logger), nil
	}
	m, err := NewMemory[T](memorySize, logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}
