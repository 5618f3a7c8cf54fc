package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	GrantOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_operations_total",
			Help: "State machine operations by outcome (ok or the error code)",
		},
		[]string{"operation", "outcome"},
	)

	GrantOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grant_operation_duration_seconds",
			Help:    "Duration of state machine operations including the transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	Disbursals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_disbursals_total",
			Help: "Milestone disbursal attempts by mode and status",
		},
		[]string{"mode", "status"},
	)

	AuthorityCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_authority_cache_lookups_total",
			Help: "Workspace admin cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grant_events_published_total",
			Help: "Events handed to a sink after commit, by sink and status",
		},
		[]string{"sink", "status"},
	)
)
