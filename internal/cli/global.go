package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/config"
	"github.com/jorgepascosoto/sql-db-backups/internal/logging"
	"github.com/jorgepascosoto/sql-db-backups/internal/metrics"
)

// GlobalOptions carries the flags shared by every command and the
// configuration loaded from the environment.
type GlobalOptions struct {
	LogLevel  string
	Databases []string
	Timeout   time.Duration

	cfg      *config.Config
	closeLog func()
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error). Overrides LOG_LEVEL")
	fs.StringSliceVarP(&o.Databases, "database", "d", o.Databases, "Database to process; repeat or comma separate. Overrides DATABASES")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Upper bound for each database job, 0 waits indefinitely. Overrides JOB_TIMEOUT")
}

// Complete loads the environment, applies flag overrides and installs the
// process logger.
func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if len(o.Databases) > 0 {
		cfg.Databases = o.Databases
	}
	if cmd.Flags().Changed("timeout") {
		cfg.JobTimeout = o.Timeout
	}

	closeLog, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.closeLog = closeLog
	return nil
}

func (o *GlobalOptions) Close() {
	if o.closeLog != nil {
		o.closeLog()
	}
}

// jobContext bounds one database job by the configured job timeout.
func (o *GlobalOptions) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.JobTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// pushMetrics sends the run's metrics to the Pushgateway, if one is set.
func (o *GlobalOptions) pushMetrics(ctx context.Context, command string) {
	if err := metrics.Push(ctx, o.cfg.PushgatewayURL, command); err != nil {
		zap.S().Warnw("Failed to push metrics", "error", err)
	}
}

type options interface {
	Complete(cmd *cobra.Command, args []string) error
	Validate(args []string) error
	Run(ctx context.Context, args []string) error
	Close()
}

func runE(o options) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := o.Complete(cmd, args); err != nil {
			return err
		}
		defer o.Close()

		if err := o.Validate(args); err != nil {
			return err
		}
		return o.Run(cmd.Context(), args)
	}
}

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db-backups [command]",
		Short: "db-backups exports SQL databases to bacpac files and prunes old backups.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}
	cmd.AddCommand(NewCmdExport())
	cmd.AddCommand(NewCmdImport())
	cmd.AddCommand(NewCmdBacpac())
	cmd.AddCommand(NewCmdCleanup())
	cmd.AddCommand(NewCmdDecrypt())

	return cmd
}
