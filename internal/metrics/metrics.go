package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	dbBackups = "db_backups"

	// Job metrics
	jobsTotal          = "jobs_total"
	statusPollsTotal   = "status_polls_total"
	jobDurationSeconds = "job_duration_seconds"

	// Retention metrics
	retentionDeletedTotal = "retention_deleted_total"
	retentionErrorsTotal  = "retention_errors_total"

	// Labels
	operationLabel = "operation"
	stateLabel     = "state"
	storeLabel     = "store"

	pushJobName = "db_backups"
)

// Registry holds every metric of the process. Batch runs push it to a
// Pushgateway instead of serving it.
var Registry = prometheus.NewRegistry()

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: dbBackups,
		Name:      jobsTotal,
		Help:      "number of backup jobs by operation and terminal state",
	},
	[]string{operationLabel, stateLabel},
)

var statusPollsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: dbBackups,
		Name:      statusPollsTotal,
		Help:      "number of status requests sent to the import/export service",
	},
	[]string{operationLabel},
)

var jobDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: dbBackups,
		Name:      jobDurationSeconds,
		Help:      "wall time of backup jobs from submission to terminal state",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
	},
	[]string{operationLabel},
)

var retentionDeletedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: dbBackups,
		Name:      retentionDeletedTotal,
		Help:      "number of old backups deleted by the retention sweep",
	},
	[]string{storeLabel},
)

var retentionErrorsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: dbBackups,
		Name:      retentionErrorsTotal,
		Help:      "number of backups the retention sweep failed to delete",
	},
	[]string{storeLabel},
)

func init() {
	Registry.MustRegister(
		jobsTotalMetric,
		statusPollsTotalMetric,
		jobDurationMetric,
		retentionDeletedMetric,
		retentionErrorsMetric,
	)
}

func IncreaseJobsTotalMetric(operation, state string) {
	jobsTotalMetric.With(prometheus.Labels{
		operationLabel: operation,
		stateLabel:     state,
	}).Inc()
}

func IncreaseStatusPollsMetric(operation string) {
	statusPollsTotalMetric.With(prometheus.Labels{operationLabel: operation}).Inc()
}

func ObserveJobDuration(operation string, d time.Duration) {
	jobDurationMetric.With(prometheus.Labels{operationLabel: operation}).Observe(d.Seconds())
}

func AddRetentionMetrics(store string, deleted, failed int) {
	labels := prometheus.Labels{storeLabel: store}
	retentionDeletedMetric.With(labels).Add(float64(deleted))
	retentionErrorsMetric.With(labels).Add(float64(failed))
}

// Push sends the registry to the Pushgateway at url, grouped by command.
func Push(ctx context.Context, url, command string) error {
	if url == "" {
		return nil
	}
	err := push.New(url, pushJobName).
		Gatherer(Registry).
		Grouping("command", command).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
