package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/dac"
	"github.com/jorgepascosoto/sql-db-backups/internal/notify"
	"github.com/jorgepascosoto/sql-db-backups/internal/storage"
)

type ExportOptions struct {
	GlobalOptions

	SkipRetention bool
}

func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdExport() *cobra.Command {
	o := DefaultExportOptions()
	cmd := &cobra.Command{
		Use:          "export [FLAGS]",
		Short:        "Export every configured database to blob storage through the import/export service",
		Example:      "export --database Orders,Customers --timeout 2h",
		Args:         cobra.NoArgs,
		RunE:         runE(o),
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ExportOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.BoolVar(&o.SkipRetention, "skip-retention", o.SkipRetention, "Do not prune old blobs after the exports")
}

func (o *ExportOptions) Validate(args []string) error {
	return o.cfg.ValidateExport()
}

func (o *ExportOptions) Run(ctx context.Context, args []string) error {
	cfg := o.cfg
	log := zap.S().Named("export")
	started := time.Now()

	orchestrator := dac.NewOrchestrator(
		dac.NewClient(cfg.DACEndpoint, cfg.HTTPTimeout),
		dac.WithPollInterval(cfg.PollInterval),
		dac.WithMaxPollErrors(cfg.MaxPollErrors),
	)
	naming := dac.BlobNaming{
		Template:  cfg.BlobURITemplate,
		Endpoint:  cfg.StorageServiceURL(),
		Storage:   cfg.StorageAccount,
		Container: cfg.BackupsContainer,
	}
	rep := newReporter(cfg)
	defer o.pushMetrics(ctx, "export")

	log.Infof("Starting export for %d database(s)", len(cfg.Databases))

	var summaries []*notify.JobSummary
	var locations []string
	var failed []string

	for i, db := range cfg.Databases {
		if ctx.Err() != nil {
			log.Warnf("Run cancelled, skipping %d remaining database(s)", len(cfg.Databases)-i)
			failed = append(failed, cfg.Databases[i:]...)
			break
		}

		dbStart := time.Now()
		blobURI := naming.URI(db)
		log.Infof("[%d/%d] Exporting database %s to %s", i+1, len(cfg.Databases), db, blobURI)

		jobCtx, cancel := o.jobContext(ctx)
		out, err := orchestrator.Export(jobCtx, dac.ExportRequest{
			Target: dac.ConnectionTarget{
				ServerName:   cfg.ServerName,
				DatabaseName: db,
				UserName:     cfg.UserName,
				Password:     cfg.Password,
			},
			Credential: dac.StorageCredential{
				AccessKey: cfg.StorageAccessKey,
				BlobURI:   blobURI,
			},
		})
		cancel()

		summary := outcomeSummary("export", out, err, time.Since(dbStart))
		summary.DatabaseName = db
		summaries = append(summaries, summary)

		if !summary.Success {
			log.Errorf("[%d/%d] FAILED: %s - %v", i+1, len(cfg.Databases), db, summary.Error)
			failed = append(failed, db)
			continue
		}
		log.Infof("[%d/%d] SUCCESS: %s -> %s", i+1, len(cfg.Databases), db, summary.Location)
		locations = append(locations, summary.Location)
	}

	var sweepErr error
	if cfg.HasRetention() && !o.SkipRetention && ctx.Err() == nil {
		res := o.sweepContainer(ctx)
		sweepErr = logSweep(log, res)
		for _, s := range summaries {
			s.DeletedBackups = res.Deleted[s.DatabaseName]
		}
	}

	for _, s := range summaries {
		rep.report(ctx, s)
	}

	if len(locations) > 0 {
		setOutput("blob_uri", locations[0])
	}
	return finishBatch(log, "export", len(locations), failed, started, sweepErr)
}

func (o *ExportOptions) sweepContainer(ctx context.Context) *sweepResult {
	store, err := storage.NewAzureStore(o.cfg)
	if err != nil {
		return &sweepResult{Deleted: map[string]int{}, Failed: err}
	}
	return sweep(ctx, o.cfg, store)
}
