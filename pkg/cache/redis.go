package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in Redis.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored value could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Redis is the shared backend. Values are stored as JSON text with a
// Redis-side TTL, so expiry does not depend on any single process.
type Redis[T any] struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed cache. Keys are namespaced with prefix.
func NewRedis[T any](redisClient *redis.Client, prefix string, logger zerolog.Logger) *Redis[T] {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Redis[T]{
		redis:  redisClient,
		prefix: prefix,
		logger: logger.With().Str("backend", BackendRedis).Logger(),
	}
}

// GetOrCreate implements Cache. Redis errors never reach the caller: a
// failed read runs the factory, a failed write still returns the value.
// Concurrent misses on the same key may run factory more than once.
func (r *Redis[T]) GetOrCreate(ctx context.Context, key string, factory Factory[T], ttl time.Duration) (T, bool, error) {
	if value, ok := r.Get(ctx, key); ok {
		return value, true, nil
	}

	value, ok, err := factory(ctx)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}

	if err := r.set(ctx, key, value, ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed, proceeding without caching")
		return value, true, nil
	}
	CacheFills.WithLabelValues(BackendRedis).Inc()
	return value, true, nil
}

// Get implements Cache. Any failure is reported as a miss.
func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool) {
	value, err := r.get(ctx, key)
	if err == nil {
		CacheHits.WithLabelValues(BackendRedis).Inc()
		r.logger.Debug().Str("key", key).Msg("Cache hit")
		return value, true
	}

	CacheMisses.WithLabelValues(BackendRedis).Inc()
	switch {
	case errors.Is(err, ErrCacheMiss):
		r.logger.Debug().Str("key", key).Msg("Cache miss")
	case ctx.Err() != nil:
		r.logger.Debug().Err(err).Str("key", key).Msg("Cache read abandoned")
	default:
		r.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
	}
	var zero T
	return zero, false
}

// Set implements Cache. Write failures are logged only.
func (r *Redis[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if err := r.set(ctx, key, value, ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Remove implements Cache. Delete failures are logged only.
func (r *Redis[T]) Remove(ctx context.Context, key string) {
	if err := r.redis.Del(ctx, prefixedKey(r.prefix, key)).Err(); err != nil {
		CacheErrors.WithLabelValues(BackendRedis, "delete").Inc()
		r.logger.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
	}
}

// get reads and decodes a value. Returns ErrCacheMiss for absent keys and
// ErrInvalidEntry for values that do not decode.
func (r *Redis[T]) get(ctx context.Context, key string) (T, error) {
	var value T

	data, err := r.redis.Get(ctx, prefixedKey(r.prefix, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return value, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(BackendRedis, "get").Inc()
		return value, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		CacheErrors.WithLabelValues(BackendRedis, "decode").Inc()
		return value, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return value, nil
}

func (r *Redis[T]) set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues(BackendRedis, "set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if ttl < 0 {
		ttl = 0
	}
	if err := r.redis.Set(ctx, prefixedKey(r.prefix, key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues(BackendRedis, "set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
