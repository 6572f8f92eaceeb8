// Package observability holds the prometheus collectors for maptalk.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	commandsParsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commands_parsed_total",
			Help: "Directives successfully extracted from AI text.",
		},
	)

	commandsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_executed_total",
			Help: "Command executions by type and outcome.",
		},
		[]string{"command", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Query cache results by outcome.",
		},
		[]string{"outcome"},
	)

	throttleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "throttle_queue_depth",
			Help: "Operations currently queued behind the throttle.",
		},
	)

	batchFlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_flush_size",
			Help:    "Number of items per batch flush.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func AddCommandsParsed(n int) {
	if n > 0 {
		commandsParsedTotal.Add(float64(n))
	}
}

func IncCommandExecuted(command, outcome string) {
	commandsExecutedTotal.WithLabelValues(command, outcome).Inc()
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func SetThrottleQueueDepth(n int) { throttleQueueDepth.Set(float64(n)) }

func ObserveBatchFlush(size int) { batchFlushSize.Observe(float64(size)) }

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
