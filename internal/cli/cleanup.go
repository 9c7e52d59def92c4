package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/notify"
	"github.com/jorgepascosoto/sql-db-backups/internal/storage"
)

type CleanupOptions struct {
	GlobalOptions

	BackupsDir string
}

func DefaultCleanupOptions() *CleanupOptions {
	return &CleanupOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdCleanup() *cobra.Command {
	o := DefaultCleanupOptions()
	cmd := &cobra.Command{
		Use:          "cleanup [FLAGS]",
		Short:        "Apply the retention policy to every configured backup location",
		Example:      "cleanup --backups-dir /var/backups/sql",
		Args:         cobra.NoArgs,
		RunE:         runE(o),
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *CleanupOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error). Overrides LOG_LEVEL")
	fs.StringVar(&o.BackupsDir, "backups-dir", o.BackupsDir, "Local backups directory to prune. Overrides BACKUPS_DIR")
}

func (o *CleanupOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.BackupsDir != "" {
		o.cfg.BackupsDir = o.BackupsDir
	}
	return nil
}

func (o *CleanupOptions) Validate(args []string) error {
	return o.cfg.ValidateCleanup()
}

func (o *CleanupOptions) Run(ctx context.Context, args []string) error {
	cfg := o.cfg
	log := zap.S().Named("cleanup")
	started := time.Now()
	defer o.pushMetrics(ctx, "cleanup")

	stores, err := o.stores(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(stores))
	for _, s := range stores {
		names = append(names, s.Name())
	}
	log.Infof("Applying retention (days=%d, count=%d) to %s", cfg.RetentionDays, cfg.RetentionCount, strings.Join(names, ", "))

	res := sweep(ctx, cfg, stores...)
	sweepErr := res.Err()

	total := 0
	for _, n := range res.Deleted {
		total += n
	}
	setOutput("deleted_count", fmt.Sprintf("%d", total))

	summary := &notify.JobSummary{
		Operation:      "cleanup",
		DatabaseName:   "all databases",
		Location:       strings.Join(names, ", "),
		DeletedBackups: total,
		Duration:       time.Since(started),
		Success:        sweepErr == nil,
		Error:          sweepErr,
	}
	newReporter(cfg).report(ctx, summary)

	if sweepErr != nil {
		log.Errorf("Cleanup finished with errors: %v", sweepErr)
		return sweepErr
	}
	log.Infof("Cleanup deleted %d backup(s) (total time: %s)", total, time.Since(started).Round(time.Second))
	return nil
}

func (o *CleanupOptions) stores(ctx context.Context) ([]storage.Store, error) {
	cfg := o.cfg
	var stores []storage.Store

	if cfg.BackupsDir != "" {
		stores = append(stores, storage.NewLocalStore(cfg.BackupsDir))
	}
	if cfg.HasAzureStorage() {
		store, err := storage.NewAzureStore(cfg)
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	if cfg.HasR2() {
		store, err := storage.NewR2Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	return stores, nil
}
