// Package ratelimit implements the token bucket that gates outbound
// Hacker News requests. A single bucket is shared by every request and
// every item fetch in the process.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Defaults derived from the steady-state rate.
const (
	// BurstMultiplier sizes the bucket: two seconds of steady-state traffic.
	BurstMultiplier = 2

	// QueueMultiplier sizes the waiter queue: twenty seconds of steady-state traffic.
	QueueMultiplier = 20

	// DefaultReplenishmentPeriod is how often TokensPerPeriod tokens are added.
	DefaultReplenishmentPeriod = time.Second
)

var (
	// ErrPermitLimitExceeded is returned when a request asks for more permits
	// than the bucket can ever hold. Such requests are never queued.
	ErrPermitLimitExceeded = errors.New("permit count exceeds token limit")

	// ErrInvalidPermits is returned for permit counts below one.
	ErrInvalidPermits = errors.New("permit count must be positive")

	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("rate limiter closed")
)

// Config holds the token bucket configuration.
type Config struct {
	// TokenLimit is the bucket capacity (burst size).
	TokenLimit int

	// TokensPerPeriod is the number of tokens added every ReplenishmentPeriod.
	TokensPerPeriod int

	// ReplenishmentPeriod is the fixed refill cadence.
	ReplenishmentPeriod time.Duration

	// QueueLimit is the maximum number of permits that may wait for tokens.
	// Zero disables queueing: an empty bucket rejects immediately.
	QueueLimit int

	// AutoReplenishment starts a background ticker. When false, Replenish
	// must be called explicitly.
	AutoReplenishment bool
}

// ConfigForRate returns the configuration for a steady-state rate in
// requests per second: capacity 2x rate, refill rate/second, queue 20x rate.
func ConfigForRate(requestsPerSecond int) Config {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return Config{
		TokenLimit:          requestsPerSecond * BurstMultiplier,
		TokensPerPeriod:     requestsPerSecond,
		ReplenishmentPeriod: DefaultReplenishmentPeriod,
		QueueLimit:          requestsPerSecond * QueueMultiplier,
		AutoReplenishment:   true,
	}
}

// Validate checks the configuration for values the bucket cannot work with.
func (c Config) Validate() error {
	if c.TokenLimit < 1 {
		return fmt.Errorf("token_limit must be >= 1 (got %d)", c.TokenLimit)
	}
	if c.TokensPerPeriod < 1 {
		return fmt.Errorf("tokens_per_period must be >= 1 (got %d)", c.TokensPerPeriod)
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("queue_limit must be >= 0 (got %d)", c.QueueLimit)
	}
	if c.AutoReplenishment && c.ReplenishmentPeriod <= 0 {
		return fmt.Errorf("replenishment_period must be > 0 with auto replenishment (got %v)", c.ReplenishmentPeriod)
	}
	return nil
}
