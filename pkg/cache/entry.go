package cache

import (
	"time"
)

// entry is an in-process cache record. A zero expires means no expiry.
type entry[T any] struct {
	value   T
	expires time.Time
}

func newEntry[T any](value T, ttl time.Duration, now time.Time) entry[T] {
	e := entry[T]{value: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	return e
}

// isExpired reports whether the entry is past its expiry at now.
func (e entry[T]) isExpired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// ttl returns the time left at now, 0 once expired.
// Entries without expiry report -1.
func (e entry[T]) ttl(now time.Time) time.Duration {
	if e.expires.IsZero() {
		return -1
	}
	left := e.expires.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
