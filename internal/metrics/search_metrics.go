package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Evaluation Metrics
// =============================================================================

var (
	// QueryLatencySeconds is the service-reported execution time per search path
	QueryLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annbench_query_latency_seconds",
			Help:    "Service-reported execution time of search statements by path",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"dataset", "path"},
	)

	// QueryRecall is the per-query recall distribution
	QueryRecall = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annbench_query_recall",
			Help:    "Per-query recall of the approximate path",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 1},
		},
		[]string{"dataset"},
	)

	// QueriesEvaluatedTotal counts completed query pairs
	QueriesEvaluatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_queries_evaluated_total",
			Help: "Query pairs (approximate + exact) evaluated",
		},
		[]string{"dataset"},
	)

	// MeanRecall is the final mean recall of the latest run per dataset
	MeanRecall = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "annbench_mean_recall",
			Help: "Mean recall of the latest evaluation run",
		},
		[]string{"dataset"},
	)

	// Speedup is mean exact latency over mean approximate latency of the latest run
	Speedup = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "annbench_speedup_ratio",
			Help: "Mean exact latency divided by mean approximate latency",
		},
		[]string{"dataset"},
	)

	// PacingWaitsTotal counts pacing decisions (allowed, throttled, canceled)
	PacingWaitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_pacing_waits_total",
			Help: "Query pair pacing decisions by outcome",
		},
		[]string{"outcome"},
	)

	// PacingWaitSeconds accumulates time spent waiting on the query pacer
	PacingWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annbench_pacing_wait_seconds_total",
			Help: "Total time the evaluation loop waited on the query pacer",
		},
	)
)
