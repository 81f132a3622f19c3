package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics instruments reads of a local data cache.
type CacheMetrics struct {
	// Name of the cache that is being instrumented.
	cache string

	// Cache hit rates for the local cache.
	localCacheReads *prometheus.CounterVec
}

// CacheReadStatus is the outcome of a local cache read, used as a metric label.
type CacheReadStatus string

const (
	CacheReadStatusHit      CacheReadStatus = "hit"
	CacheReadStatusMiss     CacheReadStatus = "miss"
	CacheReadStatusBadValue CacheReadStatus = "bad_value" // Value in cache was not valid (likely because of a mismatched type).
	CacheReadStatusError    CacheReadStatus = "error"     // Other internal error reading from cache.
)

// NewDefaultCacheMetrics creates Prometheus metric instrumentation for
// reads of the named local cache.
func NewDefaultCacheMetrics(cache string) *CacheMetrics {
	metrics := CacheMetrics{
		cache: cache,
		localCacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "local_cache_reads",
				Help: "How many local cache reads occur, partitioned by status (hit, miss, bad_value, error).",
			},
			[]string{"cache", "status"}, // Labels.
		),
	}
	metrics.localCacheReads = registerOnce(metrics.localCacheReads).(*prometheus.CounterVec)
	return &metrics
}

// LocalCacheReads returns the counter for the local cache read.
// The provided status is used as a label.
func (m *CacheMetrics) LocalCacheReads(status CacheReadStatus) prometheus.Counter {
	return m.localCacheReads.WithLabelValues(m.cache, string(status))
}
