package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InferenceRequests counts gateway requests by operation, outcome
	// (success|error|timeout|quota_exceeded) and cache result (hit|miss).
	InferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewriteguard_inference_requests_total",
			Help: "Total number of inference gateway requests",
		},
		[]string{"operation", "outcome", "cache"},
	)

	// QuotaReservations counts quota ledger decisions (allowed|rejected).
	QuotaReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewriteguard_quota_reservations_total",
			Help: "Total number of quota reservation attempts",
		},
		[]string{"operation", "result"},
	)

	// WordsReserved accumulates words charged against daily quotas.
	WordsReserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewriteguard_words_reserved_total",
			Help: "Total number of words reserved against daily quotas",
		},
		[]string{"operation"},
	)

	// CacheOperations counts result-cache lookups and writes by outcome
	// (hit|miss|degraded|stored).
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewriteguard_cache_operations_total",
			Help: "Total number of result cache operations",
		},
		[]string{"operation", "result"},
	)

	// Classifications tallies detection labels (ai|human).
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewriteguard_classifications_total",
			Help: "Total number of detection classifications by label",
		},
		[]string{"label"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewriteguard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
