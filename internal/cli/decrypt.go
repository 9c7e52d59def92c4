package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/encrypt"
	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

// DecryptOptions restores a downloaded off-site copy to a plain bacpac.
type DecryptOptions struct {
	GlobalOptions

	sealer *encrypt.Sealer
}

func DefaultDecryptOptions() *DecryptOptions {
	return &DecryptOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdDecrypt() *cobra.Command {
	o := DefaultDecryptOptions()
	cmd := &cobra.Command{
		Use:          "decrypt ENCRYPTED_FILE OUTPUT_FILE",
		Short:        "Decrypt an off-site bacpac copy with ENCRYPTION_KEY",
		Example:      "ENCRYPTION_KEY=... decrypt Orders-20240101-000000.bacpac.enc Orders.bacpac",
		Args:         cobra.ExactArgs(2),
		RunE:         runE(o),
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *DecryptOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error). Overrides LOG_LEVEL")
}

func (o *DecryptOptions) Validate(args []string) error {
	if !o.cfg.HasEncryption() {
		return errors.NewConfigError("encryption_key", "is required")
	}
	key, err := o.cfg.DecodeEncryptionKey()
	if err != nil {
		return errors.NewConfigError("encryption_key", err.Error())
	}
	o.sealer, err = encrypt.NewSealer(key)
	return err
}

func (o *DecryptOptions) Run(ctx context.Context, args []string) error {
	n, err := o.sealer.DecryptFile(args[0], args[1])
	if err != nil {
		return err
	}
	zap.S().Named("decrypt").Infof("Decrypted %s to %s (%d bytes)", args[0], args[1], n)
	return nil
}
