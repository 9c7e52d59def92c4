package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jorgepascosoto/sql-db-backups/internal/errors"
	"github.com/jorgepascosoto/sql-db-backups/internal/metrics"
)

type RetentionPolicy struct {
	Days  int
	Count int
}

type RetentionResult struct {
	Store        string
	Groups       int
	DeletedCount int
	DeletedKeys  []string
	// DeletedByGroup counts deletions per database.
	DeletedByGroup map[string]int
	Errors         []error
}

func (p *RetentionPolicy) IsEnabled() bool {
	return p.Days > 0 || p.Count > 0
}

// Err reports the deletions that failed, if any.
func (r *RetentionResult) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d deletions failed in %s: %w", apperrors.ErrRetentionFailed, len(r.Errors), r.Store, errors.Join(r.Errors...))
}

// ApplyRetention prunes the backups of every group in store. A deletion
// failure is logged and recorded in the result, and the sweep moves on to
// the next candidate. A listing failure aborts the sweep.
func ApplyRetention(ctx context.Context, store Store, policy RetentionPolicy) (*RetentionResult, error) {
	result := &RetentionResult{Store: store.Name(), DeletedByGroup: make(map[string]int)}
	if !policy.IsEnabled() {
		return result, nil
	}

	log := zap.S().Named("retention").With("store", store.Name())
	log.Info("Retention sweep started")

	backups, err := store.ListBackups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	groups := groupBackups(backups)
	result.Groups = len(groups)

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, backup := range determineBackupsToDelete(groups[name], policy) {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if err := store.Delete(ctx, backup.Key); err != nil {
				result.Errors = append(result.Errors, err)
				log.Errorw("Failed to delete backup", "key", backup.Key, "database", name, "error", err)
			} else {
				result.DeletedCount++
				result.DeletedKeys = append(result.DeletedKeys, backup.Key)
				result.DeletedByGroup[name]++
				log.Infow("Deleted old backup", "key", backup.Key, "database", name)
			}
		}
	}

	metrics.AddRetentionMetrics(store.Name(), result.DeletedCount, len(result.Errors))
	log.Infow("Retention sweep finished", "databases", result.Groups, "deleted", result.DeletedCount, "failed", len(result.Errors))
	return result, nil
}

// groupBackups splits backups by Group, each group sorted newest first.
func groupBackups(backups []BackupObject) map[string][]BackupObject {
	groups := make(map[string][]BackupObject)
	for _, b := range backups {
		groups[b.Group] = append(groups[b.Group], b)
	}
	for _, g := range groups {
		sortNewestFirst(g)
	}
	return groups
}

// determineBackupsToDelete expects backups of a single group, newest first.
func determineBackupsToDelete(backups []BackupObject, policy RetentionPolicy) []BackupObject {
	var toDelete []BackupObject
	now := time.Now()

	// Track which backups to keep
	keep := make(map[string]bool)

	// If count policy is set, keep the N most recent
	if policy.Count > 0 {
		for i := 0; i < policy.Count && i < len(backups); i++ {
			keep[backups[i].Key] = true
		}
	}

	for _, backup := range backups {
		shouldDelete := false

		// Check age policy
		if policy.Days > 0 {
			age := now.Sub(backup.LastModified)
			maxAge := time.Duration(policy.Days) * 24 * time.Hour
			if age > maxAge {
				shouldDelete = true
			}
		}

		// Check count policy - if not in keep set
		if policy.Count > 0 && !keep[backup.Key] {
			shouldDelete = true
		}

		if shouldDelete && !keep[backup.Key] {
			toDelete = append(toDelete, backup)
		}
	}

	return toDelete
}
