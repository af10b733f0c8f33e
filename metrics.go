package apiclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the session layer around it. It is safe for concurrent use, and a nil
// collector records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	rateLimitWaits     prometheus.Histogram
	rateLimitRemaining prometheus.Gauge

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge
	cacheEvictions prometheus.Counter

	tokenRefreshes       *prometheus.CounterVec
	tokenRefreshDuration prometheus.Histogram

	activityDropped *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_requests_total",
				Help: "Total number of HTTP requests completed",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apiclient_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "apiclient_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		rateLimitWaits: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apiclient_rate_limit_wait_seconds",
				Help:    "Time requests spent blocked by the rate limiter",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
		),
		rateLimitRemaining: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "apiclient_rate_limit_remaining",
				Help: "Requests left in the current rate window",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method", "endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method", "endpoint"},
		),
		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "apiclient_cache_entries",
				Help: "Current number of entries in cache",
			},
		),
		cacheBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "apiclient_cache_bytes",
				Help: "Approximate bytes held by the cache",
			},
		),
		cacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "apiclient_cache_evictions_total",
				Help: "Entries dropped by expiry sweeps",
			},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_token_refreshes_total",
				Help: "Token refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		tokenRefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apiclient_token_refresh_duration_seconds",
				Help:    "Duration of token refresh calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		activityDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_activity_dropped_total",
				Help: "Activity events that never reached the activity log",
			},
			[]string{"reason"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apiclient_errors_total",
				Help: "Total number of errors surfaced to callers",
			},
			[]string{"type", "method", "endpoint"},
		),
	}

	if g, ok := registry.(prometheus.Gatherer); ok {
		mc.gatherer = g
	}
	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordRateLimit observes an acquire and the slots left afterwards.
func (mc *MetricsCollector) RecordRateLimit(waited time.Duration, remaining int) {
	if mc == nil {
		return
	}

	mc.rateLimitWaits.Observe(waited.Seconds())
	mc.rateLimitRemaining.Set(float64(remaining))
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(method, endpoint).Inc()
}

// RecordCacheSize sets the cache entry and byte gauges.
func (mc *MetricsCollector) RecordCacheSize(entries int, bytes int64) {
	if mc == nil {
		return
	}

	mc.cacheEntries.Set(float64(entries))
	mc.cacheBytes.Set(float64(bytes))
}

// RecordCacheEvictions adds n swept entries.
func (mc *MetricsCollector) RecordCacheEvictions(n int) {
	if mc == nil || n <= 0 {
		return
	}

	mc.cacheEvictions.Add(float64(n))
}

// RecordTokenRefresh counts a refresh call by outcome.
func (mc *MetricsCollector) RecordTokenRefresh(outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.tokenRefreshes.WithLabelValues(outcome).Inc()
	mc.tokenRefreshDuration.Observe(duration.Seconds())
}

// RecordActivityDropped counts an activity event that was not delivered.
func (mc *MetricsCollector) RecordActivityDropped(reason string) {
	if mc == nil {
		return
	}

	mc.activityDropped.WithLabelValues(reason).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// Gatherer exposes the registry the collector registered with, when that
// registry can also gather. It is nil otherwise.
func (mc *MetricsCollector) Gatherer() prometheus.Gatherer {
	if mc == nil {
		return nil
	}
	return mc.gatherer
}
