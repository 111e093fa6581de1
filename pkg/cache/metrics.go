package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hn_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	// CacheMisses tracks cache misses by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hn_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// CacheFills tracks factory results stored after a miss
	CacheFills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hn_cache_fills_total",
			Help: "Total number of values computed by a factory and stored",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hn_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"backend", "operation"}, // "get", "set", "delete", "decode"
	)
)
