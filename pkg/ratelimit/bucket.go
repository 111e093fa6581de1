package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the token bucket.
var (
	permitsAcquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_ratelimit_acquired_total",
		Help: "Total number of granted rate limit leases",
	})

	permitsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_ratelimit_rejected_total",
		Help: "Total number of rejected rate limit requests by reason",
	}, []string{"reason"}) // "queue_full", "exceeds_limit", "closed"

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hn_ratelimit_queue_length",
		Help: "Number of permits currently waiting for tokens",
	})
)

// Lease is the outcome of an Acquire call.
type Lease struct {
	// Acquired reports whether the permits were granted.
	Acquired bool
}

// waiter is a queued Acquire call. granted and settled are guarded by the bucket mutex.
type waiter struct {
	permits int
	ready   chan struct{}
	granted bool
	settled bool
}

// TokenBucket is a token bucket with a bounded FIFO waiter queue.
// Tokens are only ever created by replenishment; Acquire never invents them.
type TokenBucket struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	tokens int
	queue  *list.List // of *waiter, oldest first
	queued int        // permits held by queued waiters
	closed bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTokenBucket creates a full bucket and, if configured, starts the
// replenishment ticker. Call Close to stop it.
func NewTokenBucket(cfg Config, logger zerolog.Logger) (*TokenBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	b := &TokenBucket{
		cfg:    cfg,
		logger: logger.With().Str("component", "ratelimit").Logger(),
		tokens: cfg.TokenLimit,
		queue:  list.New(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.AutoReplenishment {
		go b.replenishLoop()
	} else {
		close(b.done)
	}

	b.logger.Debug().
		Int("token_limit", cfg.TokenLimit).
		Int("tokens_per_period", cfg.TokensPerPeriod).
		Dur("period", cfg.ReplenishmentPeriod).
		Int("queue_limit", cfg.QueueLimit).
		Msg("Token bucket initialized")

	return b, nil
}

// Acquire takes permits from the bucket. When the bucket is momentarily
// short it queues (oldest first) until tokens arrive or ctx is done.
//
// Returns Lease{Acquired: false} with a nil error when the queue is full.
// Returns ErrPermitLimitExceeded immediately when permits can never be
// satisfied, and ctx.Err() when the context ends while waiting.
func (b *TokenBucket) Acquire(ctx context.Context, permits int) (Lease, error) {
	if permits < 1 {
		return Lease{}, ErrInvalidPermits
	}
	if permits > b.cfg.TokenLimit {
		permitsRejectedTotal.WithLabelValues("exceeds_limit").Inc()
		return Lease{}, fmt.Errorf("%w: requested %d, limit %d", ErrPermitLimitExceeded, permits, b.cfg.TokenLimit)
	}
	if err := ctx.Err(); err != nil {
		return Lease{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		permitsRejectedTotal.WithLabelValues("closed").Inc()
		return Lease{}, ErrClosed
	}

	// Fast path only when nobody is waiting, so queued callers keep their turn.
	if b.queue.Len() == 0 && b.tokens >= permits {
		b.tokens -= permits
		b.mu.Unlock()
		permitsAcquiredTotal.Inc()
		return Lease{Acquired: true}, nil
	}

	if b.queued+permits > b.cfg.QueueLimit {
		b.mu.Unlock()
		permitsRejectedTotal.WithLabelValues("queue_full").Inc()
		b.logger.Debug().Int("permits", permits).Msg("Rate limit queue full")
		return Lease{}, nil
	}

	w := &waiter{permits: permits, ready: make(chan struct{})}
	elem := b.queue.PushBack(w)
	b.queued += permits
	queueLength.Add(float64(permits))
	b.mu.Unlock()

	select {
	case <-w.ready:
		if !w.granted {
			permitsRejectedTotal.WithLabelValues("closed").Inc()
			return Lease{}, ErrClosed
		}
		permitsAcquiredTotal.Inc()
		return Lease{Acquired: true}, nil

	case <-ctx.Done():
		b.mu.Lock()
		if w.settled {
			// Granted while we were giving up: hand the tokens back.
			if w.granted {
				b.tokens = min(b.tokens+w.permits, b.cfg.TokenLimit)
				b.grantWaiters()
			}
		} else {
			b.queue.Remove(elem)
			b.queued -= w.permits
			queueLength.Sub(float64(w.permits))
			w.settled = true
			// The head may have moved; the next waiter could fit now.
			b.grantWaiters()
		}
		b.mu.Unlock()
		permitsRejectedTotal.WithLabelValues("cancelled").Inc()
		return Lease{}, ctx.Err()
	}
}

// Replenish adds one period's worth of tokens and serves queued waiters.
func (b *TokenBucket) Replenish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.tokens = min(b.tokens+b.cfg.TokensPerPeriod, b.cfg.TokenLimit)
	b.grantWaiters()
}

// Available returns the number of tokens currently in the bucket.
func (b *TokenBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// QueuedPermits returns the number of permits waiting for tokens.
func (b *TokenBucket) QueuedPermits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued
}

// Close stops replenishment and rejects every queued waiter.
func (b *TokenBucket) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done

		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for e := b.queue.Front(); e != nil; e = b.queue.Front() {
			w := b.queue.Remove(e).(*waiter)
			w.settled = true
			close(w.ready)
		}
		queueLength.Sub(float64(b.queued))
		b.queued = 0
	})
}

// grantWaiters serves the queue strictly in arrival order. Caller holds b.mu.
func (b *TokenBucket) grantWaiters() {
	for e := b.queue.Front(); e != nil; e = b.queue.Front() {
		w := e.Value.(*waiter)
		if b.tokens < w.permits {
			return
		}
		b.tokens -= w.permits
		b.queue.Remove(e)
		b.queued -= w.permits
		queueLength.Sub(float64(w.permits))
		w.granted = true
		w.settled = true
		close(w.ready)
	}
}

func (b *TokenBucket) replenishLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.ReplenishmentPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Replenish()
		}
	}
}
