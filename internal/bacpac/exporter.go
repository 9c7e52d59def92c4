// Package bacpac exports databases to local .bacpac files with sqlpackage.
package bacpac

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jorgepascosoto/sql-db-backups/internal/config"
	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

const (
	FileExtension = ".bacpac"

	fileTimeFormat = "20060102-150405"
)

// Result describes one exported file.
type Result struct {
	Database string
	Path     string
	Size     int64
	Duration time.Duration
}

type Exporter struct {
	sqlpackage string
	server     string
	user       string
	password   string
	logger     *zap.SugaredLogger
}

func NewExporter(cfg *config.Config) *Exporter {
	path := cfg.SQLPackagePath
	if path == "" {
		path = "sqlpackage"
	}
	return &Exporter{
		sqlpackage: path,
		server:     cfg.ServerName,
		user:       cfg.UserName,
		password:   cfg.Password,
		logger:     zap.S().Named("bacpac"),
	}
}

// Export writes database to targetFile. A failed run leaves no file behind.
func (e *Exporter) Export(ctx context.Context, database, targetFile string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, e.sqlpackage, e.buildArgs(database, targetFile)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Infow("Export of database started", "database", database, "file", targetFile)

	if err := cmd.Run(); err != nil {
		if rmErr := os.Remove(targetFile); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warnw("Failed to remove partial export", "file", targetFile, "error", rmErr)
		}
		if msg := strings.TrimSpace(output.String()); msg != "" {
			return nil, errors.NewBackupError("sqlpackage export", database, fmt.Errorf("%w: %w: %s", errors.ErrExportFailed, err, msg))
		}
		return nil, errors.NewBackupError("sqlpackage export", database, fmt.Errorf("%w: %w", errors.ErrExportFailed, err))
	}

	info, err := os.Stat(targetFile)
	if err != nil {
		return nil, errors.NewBackupError("sqlpackage export", database, fmt.Errorf("%w: no output file: %w", errors.ErrExportFailed, err))
	}

	result := &Result{
		Database: database,
		Path:     targetFile,
		Size:     info.Size(),
		Duration: time.Since(start),
	}
	e.logger.Infow("Export of database finished", "database", database, "bytes", result.Size, "duration", result.Duration)
	return result, nil
}

func (e *Exporter) buildArgs(database, targetFile string) []string {
	args := []string{
		"/Action:Export",
		"/SourceServerName:" + e.server,
		"/SourceDatabaseName:" + database,
		"/TargetFile:" + targetFile,
		"/Quiet:True",
	}

	if e.user != "" {
		args = append(args, "/SourceUser:"+e.user)
	}
	if e.password != "" {
		args = append(args, "/SourcePassword:"+e.password)
	}

	return args
}

// TargetPath returns <dir>/<database>/<database>-<timestamp>.bacpac and
// creates the per-database directory.
func TargetPath(dir, database string, now time.Time) (string, error) {
	dbDir := filepath.Join(dir, database)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s%s", database, now.UTC().Format(fileTimeFormat), FileExtension)
	return filepath.Join(dbDir, name), nil
}

// ObjectKey is the off-site key of a local export: <database>/<file name>.
func ObjectKey(database, path string) string {
	return database + "/" + filepath.Base(path)
}
