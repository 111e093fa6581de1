package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultMemorySize bounds the in-process cache. Well above the ~500
// best stories the upstream ranks at any time.
const DefaultMemorySize = 10_000

// Memory is the in-process backend: a bounded LRU of entries with absolute
// expiry. Entries live as long as the process.
type Memory[T any] struct {
	// mu orders writes against expiry eviction; lookups stay lock-free.
	mu     sync.Mutex
	lru    *lru.Cache[string, entry[T]]
	now    func() time.Time
	logger zerolog.Logger
}

// NewMemory creates an in-process cache holding at most size entries.
func NewMemory[T any](size int, logger zerolog.Logger) (*Memory[T], error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	c, err := lru.New[string, entry[T]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Memory[T]{
		lru:    c,
		now:    time.Now,
		logger: logger.With().Str("backend", BackendMemory).Logger(),
	}, nil
}

// GetOrCreate implements Cache. Concurrent misses on the same key may run
// factory more than once.
func (m *Memory[T]) GetOrCreate(ctx context.Context, key string, factory Factory[T], ttl time.Duration) (T, bool, error) {
	if value, ok := m.Get(ctx, key); ok {
		return value, true, nil
	}

	value, ok, err := factory(ctx)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}

	m.Set(ctx, key, value, ttl)
	CacheFills.WithLabelValues(BackendMemory).Inc()
	return value, true, nil
}

// Get implements Cache. Expired entries are evicted on read.
func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	e, ok := m.lru.Get(key)
	if ok {
		if now := m.now(); e.isExpired(now) {
			m.evictExpired(key, now)
			ok = false
		}
	}
	if !ok {
		CacheMisses.WithLabelValues(BackendMemory).Inc()
		m.logger.Debug().Str("key", key).Msg("Cache miss")
		var zero T
		return zero, false
	}

	CacheHits.WithLabelValues(BackendMemory).Inc()
	m.logger.Debug().Str("key", key).Dur("ttl", e.ttl(m.now())).Msg("Cache hit")
	return e.value, true
}

// Set implements Cache.
func (m *Memory[T]) Set(_ context.Context, key string, value T, ttl time.Duration) {
	e := newEntry(value, ttl, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, e)
}

// evictExpired removes key only while it still holds an entry expired at now,
// so a value stored after the lookup survives.
func (m *Memory[T]) evictExpired(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lru.Peek(key); ok && e.isExpired(now) {
		m.lru.Remove(key)
	}
}

// Remove implements Cache.
func (m *Memory[T]) Remove(_ context.Context, key string) {
	m.lru.Remove(key)
}

// Len returns the number of entries, expired ones included until read.
func (m *Memory[T]) Len() int {
	return m.lru.Len()
}
