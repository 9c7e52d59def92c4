package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/config"
	"github.com/jorgepascosoto/sql-db-backups/internal/dac"
	"github.com/jorgepascosoto/sql-db-backups/internal/notify"
	"github.com/jorgepascosoto/sql-db-backups/internal/storage"
)

type reporter struct {
	cfg      *config.Config
	notifier *notify.WebhookNotifier
}

func newReporter(cfg *config.Config) *reporter {
	return &reporter{
		cfg:      cfg,
		notifier: notify.NewWebhookNotifier(cfg.WebhookURL),
	}
}

// report writes the GitHub step summary and sends the webhook for one
// database. Notification failures never fail the run.
func (r *reporter) report(ctx context.Context, summary *notify.JobSummary) {
	if err := notify.WriteGitHubSummary(summary); err != nil {
		zap.S().Warnw("Failed to write GitHub summary", "error", err)
	}

	shouldNotify := (summary.Success && r.cfg.NotifyOnSuccess) || (!summary.Success && r.cfg.NotifyOnFailure)
	if !shouldNotify {
		return
	}
	if err := r.notifier.Notify(ctx, summary); err != nil {
		zap.S().Warnw("Webhook notification failed", "database", summary.DatabaseName, "error", err)
	}
}

func setOutput(name, value string) {
	if err := notify.SetGitHubOutput(name, value); err != nil {
		zap.S().Warnw("Failed to set output", "name", name, "error", err)
	}
}

// outcomeSummary turns an orchestrated job into a summary row.
func outcomeSummary(op string, out *dac.Outcome, err error, d time.Duration) *notify.JobSummary {
	summary := &notify.JobSummary{
		Operation: op,
		Duration:  d,
	}
	if out != nil {
		summary.DatabaseName = out.Database
		summary.JobID = out.JobID
		summary.State = string(out.State)
		summary.Polls = out.Polls
		summary.Location = out.Location
		if out.Operation == dac.OperationImport {
			summary.Location = out.ResultDatabase
		}
		summary.Success = out.Succeeded()
	}

	switch {
	case err != nil:
		summary.Success = false
		summary.Error = err
	case !summary.Success:
		msg := "job did not complete"
		if out != nil && out.Error != "" {
			msg = out.Error
		}
		summary.Error = fmt.Errorf("%s job failed: %s", op, msg)
	}
	return summary
}

func retentionPolicy(cfg *config.Config) storage.RetentionPolicy {
	return storage.RetentionPolicy{
		Days:  cfg.RetentionDays,
		Count: cfg.RetentionCount,
	}
}

// sweepResult is the outcome of applying retention to several stores.
type sweepResult struct {
	// Deleted counts deletions per database.
	Deleted map[string]int
	// Failed holds the stores that could not be swept at all.
	Failed error
	// Partial holds individual deletions that failed.
	Partial error
}

// Err joins every failure of the sweep.
func (r *sweepResult) Err() error {
	return errors.Join(r.Failed, r.Partial)
}

// sweep applies retention to every store. Every store is swept even when an
// earlier one fails.
func sweep(ctx context.Context, cfg *config.Config, stores ...storage.Store) *sweepResult {
	res := &sweepResult{Deleted: make(map[string]int)}
	var failed, partial []error

	for _, store := range stores {
		result, err := storage.ApplyRetention(ctx, store, retentionPolicy(cfg))
		if err != nil {
			failed = append(failed, fmt.Errorf("retention on %s: %w", store.Name(), err))
			continue
		}
		for db, n := range result.DeletedByGroup {
			res.Deleted[db] += n
		}
		if err := result.Err(); err != nil {
			partial = append(partial, err)
		}
	}

	res.Failed = errors.Join(failed...)
	res.Partial = errors.Join(partial...)
	return res
}

// logSweep reports a sweep that ran after a batch. Stores that could not be
// swept are returned so the run fails; single failed deletions only warn.
func logSweep(log *zap.SugaredLogger, res *sweepResult) error {
	if res.Partial != nil {
		log.Warnf("Retention policy could not delete every expired backup: %v", res.Partial)
	}
	if res.Failed != nil {
		log.Errorf("Retention policy failed: %v", res.Failed)
	}
	return res.Failed
}

// finishBatch logs the totals of a per-database batch and returns an error
// naming the failed databases, joined with sweepErr.
func finishBatch(log *zap.SugaredLogger, op string, succeeded int, failed []string, started time.Time, sweepErr error) error {
	setOutput("success_count", fmt.Sprintf("%d", succeeded))
	setOutput("failed_count", fmt.Sprintf("%d", len(failed)))

	log.Infof("Completed: %d successful, %d failed (total time: %s)",
		succeeded, len(failed), time.Since(started).Round(time.Second))

	var batchErr error
	if len(failed) > 0 {
		batchErr = fmt.Errorf("%s failed for %d database(s): %v", op, len(failed), failed)
	}
	return errors.Join(batchErr, sweepErr)
}
