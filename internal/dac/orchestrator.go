package dac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	apperrors "github.com/jorgepascosoto/sql-db-backups/internal/errors"
	"github.com/jorgepascosoto/sql-db-backups/internal/metrics"
)

const (
	DefaultPollInterval  = 3 * time.Second
	DefaultMaxPollErrors = 5
	DefaultImportEdition = "Web"
	DefaultImportSizeGB  = 1
)

// State is how an orchestrated job ended.
type State string

const (
	// StateCompleted and StateFailed are reported by the service.
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	// StateTimedOut means the caller's context ended before a terminal state.
	StateTimedOut State = "TimedOut"
	// StateError means the job could not be submitted or tracked.
	StateError State = "Error"
)

// Outcome describes one finished export or import call.
type Outcome struct {
	Operation Operation
	Database  string
	JobID     string
	State     State
	// Location is the exported blob URI (export, Completed only).
	Location string
	// ResultDatabase is the database the service imported into (import,
	// Completed only).
	ResultDatabase string
	Error          string
	Polls          int
}

// Succeeded reports whether the service completed the job.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.State == StateCompleted
}

// Terminal reports whether the service reported Completed or Failed.
func (o *Outcome) Terminal() bool {
	return o != nil && (o.State == StateCompleted || o.State == StateFailed)
}

type ExportRequest struct {
	Target     ConnectionTarget
	Credential StorageCredential
}

type ImportRequest struct {
	Target     ConnectionTarget
	Credential StorageCredential
	Edition    string
	SizeGB     int
}

// Orchestrator turns the submit/poll protocol of the service into a
// blocking call. It runs one job at a time and keeps no state between calls.
type Orchestrator struct {
	client        JobClient
	clock         clock.Clock
	pollInterval  time.Duration
	maxPollErrors int
	logger        *zap.SugaredLogger
}

type Option func(*Orchestrator)

// statusRedactor is implemented by clients that can print a status request
// with its credentials masked.
type statusRedactor interface {
	RedactedStatusURL(jobID string, target ConnectionTarget) string
}

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxPollErrors sets how many consecutive failed status requests are
// tolerated before the call gives up.
func WithMaxPollErrors(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPollErrors = n
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(client JobClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:        client,
		clock:         clock.WallClock,
		pollInterval:  DefaultPollInterval,
		maxPollErrors: DefaultMaxPollErrors,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.S().Named("dac")
	}
	return o
}

// Export runs an export job and blocks until the service reports a terminal
// state, ctx ends, or the service becomes unreachable. A job the service
// reports as Failed is returned with a nil error.
func (o *Orchestrator) Export(ctx context.Context, req ExportRequest) (*Outcome, error) {
	return o.run(ctx, OperationExport, req.Target, NewExportInput(req.Target, req.Credential))
}

// Import is Export for import jobs. The returned Outcome carries the actual
// terminal state; Outcome.Terminal gives the "reached an end" view.
func (o *Orchestrator) Import(ctx context.Context, req ImportRequest) (*Outcome, error) {
	edition := req.Edition
	if edition == "" {
		edition = DefaultImportEdition
	}
	size := req.SizeGB
	if size <= 0 {
		size = DefaultImportSizeGB
	}
	return o.run(ctx, OperationImport, req.Target, NewImportInput(req.Target, req.Credential, edition, size))
}

func (o *Orchestrator) run(ctx context.Context, op Operation, target ConnectionTarget, payload any) (*Outcome, error) {
	opName := strings.ToLower(string(op))
	log := o.logger.With("operation", opName, "database", target.DatabaseName)
	start := o.clock.Now()

	outcome := &Outcome{Operation: op, Database: target.DatabaseName}
	defer func() {
		metrics.IncreaseJobsTotalMetric(opName, string(outcome.State))
		metrics.ObserveJobDuration(opName, o.clock.Now().Sub(start))
	}()

	log.Infof("Starting %s operation", opName)

	jobID, err := o.client.Submit(ctx, op, payload)
	if err != nil {
		logRequestError(log, err)
		if ctx.Err() != nil {
			return o.timedOut(log, outcome, ctx)
		}
		outcome.State = StateError
		outcome.Error = err.Error()
		return outcome, fmt.Errorf("failed to submit %s job: %w", opName, err)
	}
	outcome.JobID = jobID
	log = log.With("job_id", jobID)
	log.Infof("Submitted %s job", opName)

	failedPolls := 0
	for {
		if ctx.Err() != nil {
			return o.timedOut(log, outcome, ctx)
		}

		outcome.Polls++
		metrics.IncreaseStatusPollsMetric(opName)
		if r, ok := o.client.(statusRedactor); ok {
			log.Debugf("Polling %s", r.RedactedStatusURL(jobID, target))
		}
		status, err := o.client.Status(ctx, jobID, target)

		switch {
		case err == nil:
			failedPolls = 0
			log.Debugf("Job status: %s", status.Status)

			switch status.Status {
			case StatusFailed:
				log.Errorf("Database %s failed: %s", opName, status.ErrorMessage)
				outcome.State = StateFailed
				outcome.Error = status.ErrorMessage
				return outcome, nil
			case StatusCompleted:
				outcome.State = StateCompleted
				if op == OperationExport {
					outcome.Location = status.BlobURI
					log.Infof("Export complete - database exported to: %s", status.BlobURI)
				} else {
					outcome.ResultDatabase = status.DatabaseName
					log.Infof("Import complete - database imported to: %s", status.DatabaseName)
				}
				return outcome, nil
			}

		case errors.Is(err, apperrors.ErrEmptyStatus), errors.Is(err, apperrors.ErrMalformedStatus):
			log.Warnf("Ignoring unusable status response: %v", err)

		default:
			if ctx.Err() != nil {
				return o.timedOut(log, outcome, ctx)
			}
			failedPolls++
			logRequestError(log, err)
			if failedPolls >= o.maxPollErrors {
				outcome.State = StateError
				outcome.Error = err.Error()
				return outcome, fmt.Errorf("giving up on %s job %s after %d failed status requests: %w", opName, jobID, failedPolls, err)
			}
		}

		select {
		case <-ctx.Done():
			return o.timedOut(log, outcome, ctx)
		case <-o.clock.After(o.pollInterval):
		}
	}
}

func (o *Orchestrator) timedOut(log *zap.SugaredLogger, outcome *Outcome, ctx context.Context) (*Outcome, error) {
	log.Errorf("Stopped waiting for job after %d status checks: %v", outcome.Polls, ctx.Err())
	outcome.State = StateTimedOut
	outcome.Error = ctx.Err().Error()
	return outcome, fmt.Errorf("%w: %s job %s: %w", apperrors.ErrJobTimedOut, strings.ToLower(string(outcome.Operation)), outcome.JobID, ctx.Err())
}

func logRequestError(log *zap.SugaredLogger, err error) {
	if te, ok := apperrors.IsTransportError(err); ok && te.StatusCode != 0 {
		log.Errorw("Request failed", "error", err, "status_code", te.StatusCode, "status_description", te.Status)
		return
	}
	log.Errorw("Request failed", "error", err)
}
