package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServiceRequestsTotal counts statements submitted to the query service
	ServiceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_service_requests_total",
			Help: "The total number of statements submitted to the query service",
		},
		[]string{"operation", "status"},
	)

	// ServiceRoundTripSeconds measures client-observed request latency
	ServiceRoundTripSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annbench_service_round_trip_seconds",
			Help:    "Client-observed round trip of query service requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// StageDurationSeconds measures pipeline stage wall time
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annbench_stage_duration_seconds",
			Help:    "Wall time of pipeline stages",
			Buckets: []float64{0.1, 1, 10, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	// StageRunsTotal counts stage executions by outcome (ok, skipped, failed)
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_stage_runs_total",
			Help: "Pipeline stage executions by outcome",
		},
		[]string{"stage", "outcome"},
	)

	// ArtifactsSkippedTotal counts stage outputs found already present
	ArtifactsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_artifacts_skipped_total",
			Help: "Stage outputs found already present and left untouched",
		},
		[]string{"kind"},
	)

	// RecordsWrittenTotal counts JSON lines written per stream kind
	RecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_records_written_total",
			Help: "Records written to derived stream artifacts",
		},
		[]string{"stream"},
	)

	// BytesDownloadedTotal tracks raw container bytes fetched from mirrors
	BytesDownloadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annbench_bytes_downloaded_total",
			Help: "Raw container bytes fetched from mirrors",
		},
		[]string{"source"},
	)
)
