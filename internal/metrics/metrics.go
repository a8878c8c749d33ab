// Package metrics declares the Prometheus series of §6, in the teacher's
// style (promauto-registered package vars), extended from the teacher's
// four cache counters to the full request/cache/fallback/breaker metric
// set the pipeline needs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_http_requests_total",
		Help: "Total HTTP requests served, by method, cache status and outcome.",
	}, []string{"method", "cache_status", "outcome"})

	UpstreamResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_http_upstream_responses_total",
		Help: "Total upstream HTTP responses, by status code.",
	}, []string{"status_code"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_cache_hits_total",
		Help: "Total cache hits, by method.",
	}, []string{"method"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_cache_misses_total",
		Help: "Total cache misses, by method.",
	}, []string{"method"})

	RequestDurationMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_ms",
		Help:    "Request processing duration in milliseconds, by method and cache status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"method", "cache_status"})

	ResponseSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_response_size_bytes",
		Help:    "Response body size in bytes, by method.",
		Buckets: prometheus.ExponentialBuckets(32, 2, 12),
	}, []string{"method"})

	FallbackRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_fallback_requests_total",
		Help: "Total archive-fallback attempts, by network, upstream type and reason.",
	}, []string{"network", "upstream_type", "reason"})

	UpstreamResponseTimeMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_upstream_response_time_ms",
		Help:    "Upstream call latency in milliseconds, by network and upstream type.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"network", "upstream_type"})

	NetworkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_network_requests_total",
		Help: "Total requests, by network and method.",
	}, []string{"network", "method"})

	RoutingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_routing_decisions_total",
		Help: "Total upstream routing decisions, by network, upstream type and reason.",
	}, []string{"network", "upstream_type", "reason"})

	ArchiveNodeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_archive_node_requests_total",
		Help: "Total requests served by an archive (fallback) upstream, by network and method.",
	}, []string{"network", "method"})

	CacheInvalidEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_cache_invalid_entries_total",
		Help: "Total responses rejected by the problematic-response predicate, by network, method and reason.",
	}, []string{"network", "method", "reason"})

	CacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpc_cache_size_bytes",
		Help: "Current size of the cache store in bytes.",
	})

	CacheItemsCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpc_cache_items_count",
		Help: "Current number of items in the cache store.",
	})
)
