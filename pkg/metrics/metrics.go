// Package metrics exposes the Prometheus registry used by github-cache.
// All metrics are defined in their respective packages (origin, cache, proxy,
// lock, view, ratelimit, scheduler) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by github-cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Origin Metrics (pkg/origin):
//   - ghcache_origin_requests_total{status} (Counter): Page requests by HTTP status
//   - ghcache_origin_fetch_duration_seconds (Histogram): Full fetch duration including pagination
//   - ghcache_origin_pages_per_fetch (Histogram): Pages followed per fetch
//   - ghcache_origin_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - ghcache_origin_retries_total{error_class} (Counter): Retry attempts by error class
//   - ghcache_origin_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ghcache_origin_retry_exhausted_total{error_class} (Counter): Fetches that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ghcache_ratelimit_remaining (Gauge): Origin requests remaining in the current window
//   - ghcache_ratelimit_blocks_total (Counter): Requests blocked at the critical threshold
//   - ghcache_ratelimit_throttles_total (Counter): Requests delayed at the warning threshold
//
// Cache Metrics (pkg/cache):
//   - ghcache_cache_hits_total (Counter): Fresh entries served
//   - ghcache_cache_misses_total (Counter): Absent entries
//   - ghcache_cache_stale_total (Counter): Entries found past their validity
//   - ghcache_cache_stored_bytes_total (Counter): Encoded bytes written
//   - ghcache_cache_errors_total{operation} (Counter): Store errors by operation
//
// Proxy Metrics (pkg/proxy):
//   - ghcache_proxy_requests_total{source} (Counter): Fetches by source (memo, cache, origin, passthrough)
//   - ghcache_proxy_store_failures_total (Counter): Swallowed cache write failures
//   - ghcache_proxy_rebuild_duration_seconds (Histogram): Full rebuild duration
//   - ghcache_proxy_rebuild_failures_total (Counter): Paths that failed during a rebuild
//
// Lock Metrics (pkg/lock):
//   - ghcache_lock_acquired_total (Counter): Successful acquisitions
//   - ghcache_lock_contended_total (Counter): Acquisitions refused because the lock was held
//   - ghcache_lock_errors_total{operation} (Counter): Store errors by operation
//
// View Metrics (pkg/view):
//   - ghcache_view_refresh_total{result} (Counter): Refreshes by result (ok, skipped, failed)
//   - ghcache_view_refresh_duration_seconds (Histogram): Refresh duration
//   - ghcache_view_snapshot_records (Gauge): Records in the last written snapshot
//
// Scheduler Metrics (pkg/scheduler):
//   - ghcache_scheduler_runs_total{task, result} (Counter): Task runs by result
//   - ghcache_scheduler_run_duration_seconds{task} (Histogram): Task run duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(ghcache_proxy_requests_total{source=~"memo|cache"}[5m])) /
//   sum(rate(ghcache_proxy_requests_total{source!="passthrough"}[5m]))
//
//   # Rate Limit Budget
//   ghcache_ratelimit_remaining < 100
//
//   # Origin Error Rate
//   sum by (class) (rate(ghcache_origin_errors_total[5m]))
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(ghcache_origin_fetch_duration_seconds_bucket[5m]))
//
//   # Skipped View Refreshes (another instance held the lock)
//   rate(ghcache_view_refresh_total{result="skipped"}[15m])
