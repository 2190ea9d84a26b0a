package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CascadeOperations counts cascade calls by entry point and result
	// (applied, rolled_back, not_found, noop).
	CascadeOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calmplan_cascade_operations_total",
		Help: "Cascade orchestration calls by entry point and result",
	}, []string{"entry", "result"})

	// CascadeDuration tracks orchestration latency including persistence.
	CascadeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calmplan_cascade_duration_seconds",
		Help:    "Cascade orchestration duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"entry"})

	// CascadeTasksCreated counts auto-created dependent tasks.
	CascadeTasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calmplan_cascade_tasks_created_total",
		Help: "Dependent tasks created by the cascade",
	})

	// CascadeDuplicatesSkipped counts drafts dropped by the title re-check.
	CascadeDuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calmplan_cascade_duplicates_skipped_total",
		Help: "Dependent task drafts skipped because the title already exists",
	})

	// BackupAttempts counts backup attempts by target and result.
	BackupAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calmplan_backup_attempts_total",
		Help: "Backup attempts by target (local, cloud) and result",
	}, []string{"target", "result"})

	// BackupStatus is 1 for the current backup health status, 0 otherwise.
	BackupStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "calmplan_backup_status",
		Help: "Current backup health status (1 = active)",
	}, []string{"status"})

	// BackupLastSuccess is the unix time of the last successful cloud backup.
	BackupLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calmplan_backup_last_success_timestamp_seconds",
		Help: "Unix time of the last successful cloud backup",
	})

	// HTTPRequests counts API requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calmplan_http_requests_total",
		Help: "HTTP API requests by route and status code",
	}, []string{"route", "code"})
)
