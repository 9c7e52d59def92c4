package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/dac"
)

type ImportOptions struct {
	GlobalOptions

	BlobURI string
	Edition string
	SizeGB  int
}

func DefaultImportOptions() *ImportOptions {
	return &ImportOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdImport() *cobra.Command {
	o := DefaultImportOptions()
	cmd := &cobra.Command{
		Use:          "import [FLAGS]",
		Short:        "Import a bacpac blob into a database through the import/export service",
		Example:      "import --database Orders_restored --blob-uri https://acct.blob.core.windows.net/backups/Orders/Orders-638396640000000000.bacpac",
		Args:         cobra.NoArgs,
		RunE:         runE(o),
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ImportOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.BlobURI, "blob-uri", o.BlobURI, "Bacpac blob to import. Overrides IMPORT_BLOB_URI")
	fs.StringVar(&o.Edition, "edition", o.Edition, "Edition of the new database. Overrides IMPORT_EDITION")
	fs.IntVar(&o.SizeGB, "size-gb", o.SizeGB, "Maximum size of the new database in GB. Overrides IMPORT_SIZE_GB")
}

func (o *ImportOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}

	if o.BlobURI != "" {
		o.cfg.ImportBlobURI = o.BlobURI
	}
	if o.Edition != "" {
		o.cfg.ImportEdition = o.Edition
	}
	if o.SizeGB > 0 {
		o.cfg.ImportSizeGB = o.SizeGB
	}
	return nil
}

func (o *ImportOptions) Validate(args []string) error {
	return o.cfg.ValidateImport()
}

func (o *ImportOptions) Run(ctx context.Context, args []string) error {
	cfg := o.cfg
	log := zap.S().Named("import")
	started := time.Now()
	db := cfg.Databases[0]

	defer o.pushMetrics(ctx, "import")

	orchestrator := dac.NewOrchestrator(
		dac.NewClient(cfg.DACEndpoint, cfg.HTTPTimeout),
		dac.WithPollInterval(cfg.PollInterval),
		dac.WithMaxPollErrors(cfg.MaxPollErrors),
	)

	log.Infof("Importing %s into database %s", cfg.ImportBlobURI, db)

	jobCtx, cancel := o.jobContext(ctx)
	defer cancel()

	out, err := orchestrator.Import(jobCtx, dac.ImportRequest{
		Target: dac.ConnectionTarget{
			ServerName:   cfg.ServerName,
			DatabaseName: db,
			UserName:     cfg.UserName,
			Password:     cfg.Password,
		},
		Credential: dac.StorageCredential{
			AccessKey: cfg.StorageAccessKey,
			BlobURI:   cfg.ImportBlobURI,
		},
		Edition: cfg.ImportEdition,
		SizeGB:  cfg.ImportSizeGB,
	})

	summary := outcomeSummary("import", out, err, time.Since(started))
	summary.DatabaseName = db
	newReporter(cfg).report(ctx, summary)

	if out != nil {
		setOutput("state", string(out.State))
	}
	if !summary.Success {
		log.Errorf("FAILED: %s - %v", db, summary.Error)
		return summary.Error
	}

	setOutput("database", out.ResultDatabase)
	log.Infof("SUCCESS: %s imported into %s (total time: %s)", cfg.ImportBlobURI, out.ResultDatabase, time.Since(started).Round(time.Second))
	return nil
}
