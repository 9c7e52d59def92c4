package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/bacpac"
	"github.com/jorgepascosoto/sql-db-backups/internal/config"
	"github.com/jorgepascosoto/sql-db-backups/internal/encrypt"
	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
	"github.com/jorgepascosoto/sql-db-backups/internal/metrics"
	"github.com/jorgepascosoto/sql-db-backups/internal/notify"
	"github.com/jorgepascosoto/sql-db-backups/internal/storage"
)

// offsiteStore is an off-site target: it receives copies and is swept.
type offsiteStore interface {
	storage.Store
	storage.Uploader
}

type BacpacOptions struct {
	GlobalOptions

	BackupsDir    string
	SkipRetention bool

	sealer *encrypt.Sealer
}

func DefaultBacpacOptions() *BacpacOptions {
	return &BacpacOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdBacpac() *cobra.Command {
	o := DefaultBacpacOptions()
	cmd := &cobra.Command{
		Use:          "bacpac [FLAGS]",
		Short:        "Export databases to local bacpac files with sqlpackage",
		Long:         "Export databases to local bacpac files with sqlpackage. When no database is configured every online database of the server except master is exported.",
		Example:      "bacpac --backups-dir /var/backups/sql",
		Args:         cobra.NoArgs,
		RunE:         runE(o),
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *BacpacOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.BackupsDir, "backups-dir", o.BackupsDir, "Directory receiving one sub-directory per database. Overrides BACKUPS_DIR")
	fs.BoolVar(&o.SkipRetention, "skip-retention", o.SkipRetention, "Do not prune old backups after the exports")
}

func (o *BacpacOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if o.BackupsDir != "" {
		o.cfg.BackupsDir = o.BackupsDir
	}
	return nil
}

func (o *BacpacOptions) Validate(args []string) error {
	if err := o.cfg.ValidateBacpac(); err != nil {
		return err
	}
	if !o.cfg.HasEncryption() {
		return nil
	}

	key, err := o.cfg.DecodeEncryptionKey()
	if err != nil {
		return err
	}
	o.sealer, err = encrypt.NewSealer(key)
	return err
}

func (o *BacpacOptions) Run(ctx context.Context, args []string) error {
	cfg := o.cfg
	log := zap.S().Named("bacpac")
	started := time.Now()
	defer o.pushMetrics(ctx, "bacpac")

	databases, err := o.databases(ctx)
	if err != nil {
		return err
	}

	offsite, err := newOffsiteStore(ctx, cfg)
	if err != nil {
		return err
	}

	exporter := bacpac.NewExporter(cfg)
	rep := newReporter(cfg)

	log.Infof("Starting bacpac export for %d database(s)", len(databases))

	var summaries []*notify.JobSummary
	var failed []string
	succeeded := 0

	for i, db := range databases {
		if ctx.Err() != nil {
			log.Warnf("Run cancelled, skipping %d remaining database(s)", len(databases)-i)
			failed = append(failed, databases[i:]...)
			break
		}

		log.Infof("[%d/%d] Exporting database %s", i+1, len(databases), db)
		summary := o.exportOne(ctx, exporter, offsite, db)
		summaries = append(summaries, summary)

		if !summary.Success {
			log.Errorf("[%d/%d] FAILED: %s - %v", i+1, len(databases), db, summary.Error)
			failed = append(failed, db)
			continue
		}
		succeeded++
		log.Infof("[%d/%d] SUCCESS: %s -> %s (%d bytes)", i+1, len(databases), db, summary.Location, summary.BackupSize)
	}

	var sweepErr error
	if cfg.HasRetention() && !o.SkipRetention && ctx.Err() == nil {
		stores := []storage.Store{storage.NewLocalStore(cfg.BackupsDir)}
		if offsite != nil {
			stores = append(stores, offsite)
		}
		res := sweep(ctx, cfg, stores...)
		sweepErr = logSweep(log, res)
		for _, s := range summaries {
			s.DeletedBackups = res.Deleted[s.DatabaseName]
		}
	}

	for _, s := range summaries {
		rep.report(ctx, s)
	}

	return finishBatch(log, "bacpac export", succeeded, failed, started, sweepErr)
}

func (o *BacpacOptions) exportOne(ctx context.Context, exporter *bacpac.Exporter, offsite offsiteStore, db string) *notify.JobSummary {
	summary := &notify.JobSummary{Operation: "bacpac", DatabaseName: db}
	start := time.Now()

	state := "Failed"
	defer func() {
		summary.Duration = time.Since(start)
		summary.State = state
		metrics.IncreaseJobsTotalMetric("bacpac", state)
		metrics.ObserveJobDuration("bacpac", summary.Duration)
	}()

	jobCtx, cancel := o.jobContext(ctx)
	defer cancel()

	target, err := bacpac.TargetPath(o.cfg.BackupsDir, db, start)
	if err != nil {
		summary.Error = err
		return summary
	}

	result, err := exporter.Export(jobCtx, db, target)
	if err != nil {
		summary.Error = err
		return summary
	}
	summary.Location = result.Path
	summary.BackupSize = result.Size

	if offsite != nil {
		key := bacpac.ObjectKey(db, result.Path)
		if o.sealer != nil {
			key += encrypt.Extension
		}
		if err := upload(jobCtx, offsite, key, result.Path, o.sealer); err != nil {
			summary.Error = fmt.Errorf("%w: %w", errors.ErrUploadFailed, err)
			return summary
		}
		summary.OffsiteKey = key
	}

	state = "Completed"
	summary.Success = true
	return summary
}

// databases returns the configured list or, when empty, the online
// databases of the server.
func (o *BacpacOptions) databases(ctx context.Context) ([]string, error) {
	if len(o.cfg.Databases) > 0 {
		return o.cfg.Databases, nil
	}

	db, err := bacpac.OpenServer(ctx, o.cfg.EnumerationDSN())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	names, err := bacpac.ListDatabases(ctx, db)
	if err != nil {
		return nil, err
	}
	zap.S().Named("bacpac").Infof("Found %d online database(s): %s", len(names), strings.Join(names, ", "))
	return names, nil
}

func newOffsiteStore(ctx context.Context, cfg *config.Config) (offsiteStore, error) {
	switch cfg.OffsiteTarget {
	case config.OffsiteR2:
		return storage.NewR2Store(ctx, cfg)
	case config.OffsiteAzure:
		return storage.NewAzureStore(cfg)
	default:
		return nil, nil
	}
}

// upload copies the file at path to key, sealed first when sealer is set.
func upload(ctx context.Context, uploader storage.Uploader, key, path string, sealer *encrypt.Sealer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body io.Reader = f
	if sealer != nil {
		sealed, err := sealer.Seal(f)
		if err != nil {
			return err
		}
		body = sealed
	}
	return uploader.Upload(ctx, key, body)
}
