// Package metrics exposes the process-wide Prometheus registry.
// All metrics are defined in their respective packages (cache, ratelimit,
// client, circuit, stories) via promauto to keep packages independent.
//
// This package provides the /metrics handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - hn_cache_hits_total{backend} (Counter): Cache hits by backend (memory, redis)
//   - hn_cache_misses_total{backend} (Counter): Cache misses, including degraded reads
//   - hn_cache_fills_total{backend} (Counter): Factory results written to the cache
//   - hn_cache_errors_total{backend, operation} (Counter): Redis get/set/delete/decode errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - hn_ratelimit_acquired_total (Counter): Permits granted
//   - hn_ratelimit_rejected_total{reason} (Counter): Rejections (queue_full, exceeds_limit, cancelled, closed)
//   - hn_ratelimit_queue_length (Gauge): Permits waiting in the queue
//
// Upstream Metrics (pkg/client):
//   - hn_upstream_requests_total{operation, status} (Counter): Attempts by operation and HTTP status
//   - hn_upstream_request_duration_seconds{operation} (Histogram): Attempt duration
//   - hn_upstream_errors_total{class} (Counter): Attempt errors by class
//   - hn_upstream_retries_total{error_class} (Counter): Retries by error class
//   - hn_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - hn_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Circuit Metrics (pkg/circuit):
//   - hn_circuit_state{name} (Gauge): 0=closed, 1=open, 2=half-open; name is the operation
//   - hn_circuit_rejections_total{name} (Counter): Calls short-circuited
//
// Story Metrics (pkg/stories):
//   - hn_story_fetch_outcomes_total{outcome} (Counter): resolved, absent, denied, failed
//   - hn_id_list_fallback_total{source} (Counter): primary, stale, none
//   - hn_resolve_duration_seconds (Histogram): Resolve duration
//
// HTTP Metrics (cmd/hn-proxy):
//   - hn_http_requests_total{route, status} (Counter): Requests served
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(hn_cache_hits_total[5m])) /
//   (sum(rate(hn_cache_hits_total[5m])) + sum(rate(hn_cache_misses_total[5m])))
//
//   # Dropped Items
//   sum by (outcome) (rate(hn_story_fetch_outcomes_total{outcome!="resolved"}[5m]))
//
//   # Open Circuits
//   hn_circuit_state == 1
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(hn_upstream_request_duration_seconds_bucket[5m]))
