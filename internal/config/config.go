package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

// envPrefix makes every key readable both as NAME and as INPUT_NAME (GitHub
// Actions convention). When both are set the INPUT_ form wins.
const envPrefix = "INPUT"

type OffsiteTarget string

const (
	OffsiteNone  OffsiteTarget = ""
	OffsiteR2    OffsiteTarget = "r2"
	OffsiteAzure OffsiteTarget = "azure"
)

// Config holds the application configuration
type Config struct {
	// Databases to back up. When empty the bacpac command enumerates the
	// online databases of the server instead.
	Databases []string `envconfig:"DATABASES"`

	// Database server credentials (shared by all databases)
	ServerName       string `envconfig:"DB_SERVER"`
	UserName         string `envconfig:"DB_USER"`
	Password         string `envconfig:"DB_PASSWORD"`
	ConnectionString string `envconfig:"DB_CONNECTION_STRING"`

	// Import/export service
	DACEndpoint   string        `envconfig:"DAC_ENDPOINT"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"3s"`
	MaxPollErrors int           `envconfig:"MAX_POLL_ERRORS" default:"5"`
	JobTimeout    time.Duration `envconfig:"JOB_TIMEOUT" default:"0s"`
	HTTPTimeout   time.Duration `envconfig:"DAC_HTTP_TIMEOUT" default:"2m"`

	// Azure blob storage (export destination, import source, sweep target)
	StorageAccount   string `envconfig:"STORAGE_ACCOUNT"`
	StorageAccessKey string `envconfig:"STORAGE_ACCESS_KEY"`
	StorageEndpoint  string `envconfig:"STORAGE_ENDPOINT"`
	BackupsContainer string `envconfig:"BACKUPS_CONTAINER" default:"backups"`
	BlobURITemplate  string `envconfig:"BLOB_URI_TEMPLATE" default:"{endpoint}/{container}/{database}/{database}-{ticks}.bacpac"`

	// Import settings
	ImportBlobURI string `envconfig:"IMPORT_BLOB_URI"`
	ImportEdition string `envconfig:"IMPORT_EDITION" default:"Web"`
	ImportSizeGB  int    `envconfig:"IMPORT_SIZE_GB" default:"1"`

	// Local bacpac settings
	BackupsDir     string        `envconfig:"BACKUPS_DIR"`
	SQLPackagePath string        `envconfig:"SQLPACKAGE_PATH" default:"sqlpackage"`
	OffsiteTarget  OffsiteTarget `envconfig:"OFFSITE_TARGET"`

	// R2 settings (off-site copies of local bacpac files)
	R2AccountID       string `envconfig:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `envconfig:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `envconfig:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `envconfig:"R2_BUCKET_NAME"`
	R2Prefix          string `envconfig:"R2_PREFIX" default:"backups/"`

	// EncryptionKey is a base64 AES-256 key. When set, off-site copies are
	// encrypted before upload; local files stay as sqlpackage wrote them.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`

	// Retention settings (shared)
	RetentionCount int `envconfig:"RETENTION_COUNT" default:"0"`
	RetentionDays  int `envconfig:"RETENTION_DAYS" default:"0"`

	// Notification settings (shared)
	WebhookURL      string `envconfig:"WEBHOOK_URL"`
	NotifyOnSuccess bool   `envconfig:"NOTIFY_ON_SUCCESS" default:"true"`
	NotifyOnFailure bool   `envconfig:"NOTIFY_ON_FAILURE" default:"true"`

	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	databases := c.Databases[:0]
	for _, db := range c.Databases {
		if db = strings.TrimSpace(db); db != "" {
			databases = append(databases, db)
		}
	}
	c.Databases = databases

	c.DACEndpoint = strings.TrimRight(strings.TrimSpace(c.DACEndpoint), "/")
	c.OffsiteTarget = OffsiteTarget(strings.ToLower(strings.TrimSpace(string(c.OffsiteTarget))))

	if c.R2Prefix != "" && !strings.HasSuffix(c.R2Prefix, "/") {
		c.R2Prefix += "/"
	}
}

func (c *Config) validateServer() error {
	if c.ServerName == "" {
		return errors.NewConfigError("db_server", "is required")
	}
	if c.UserName == "" {
		return errors.NewConfigError("db_user", "is required")
	}
	return nil
}

func (c *Config) validateDAC() error {
	if c.DACEndpoint == "" {
		return errors.NewConfigError("dac_endpoint", "is required")
	}
	u, err := url.Parse(c.DACEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.NewConfigError("dac_endpoint", "must be an absolute URL")
	}
	if c.PollInterval <= 0 {
		return errors.NewConfigError("poll_interval", "must be positive")
	}
	if c.MaxPollErrors < 1 {
		return errors.NewConfigError("max_poll_errors", "must be at least 1")
	}
	if c.JobTimeout < 0 {
		return errors.NewConfigError("job_timeout", "must not be negative")
	}
	return c.validateServer()
}

func (c *Config) ValidateExport() error {
	if len(c.Databases) == 0 {
		return errors.NewConfigError("databases", "at least one database is required")
	}
	if err := c.validateDAC(); err != nil {
		return err
	}
	if c.StorageAccessKey == "" {
		return errors.NewConfigError("storage_access_key", "is required")
	}
	if c.BlobURITemplate == "" {
		return errors.NewConfigError("blob_uri_template", "is required")
	}
	// {timestamp} has one-second resolution; only {ticks} keeps names unique.
	if !strings.Contains(c.BlobURITemplate, "{ticks}") {
		return errors.NewConfigError("blob_uri_template", "must contain {ticks}")
	}
	if strings.Contains(c.BlobURITemplate, "{storage}") || strings.Contains(c.BlobURITemplate, "{endpoint}") {
		if c.StorageAccount == "" && c.StorageEndpoint == "" {
			return errors.NewConfigError("storage_account", "is required by blob_uri_template")
		}
	}
	return nil
}

func (c *Config) ValidateImport() error {
	if len(c.Databases) != 1 {
		return errors.NewConfigError("databases", "exactly one target database is required")
	}
	if err := c.validateDAC(); err != nil {
		return err
	}
	if c.StorageAccessKey == "" {
		return errors.NewConfigError("storage_access_key", "is required")
	}
	if c.ImportBlobURI == "" {
		return errors.NewConfigError("import_blob_uri", "is required")
	}
	if c.ImportSizeGB < 1 {
		return errors.NewConfigError("import_size_gb", "must be at least 1")
	}
	return nil
}

func (c *Config) ValidateBacpac() error {
	if c.BackupsDir == "" {
		return errors.NewConfigError("backups_dir", "is required")
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if len(c.Databases) == 0 && c.ConnectionString == "" && c.Password == "" {
		return errors.NewConfigError("databases", "set databases or credentials to enumerate them")
	}
	if c.HasEncryption() {
		if c.OffsiteTarget == OffsiteNone {
			return errors.NewConfigError("encryption_key", "requires an offsite_target")
		}
		if _, err := c.DecodeEncryptionKey(); err != nil {
			return errors.NewConfigError("encryption_key", err.Error())
		}
	}
	switch c.OffsiteTarget {
	case OffsiteNone:
	case OffsiteR2:
		return c.validateR2()
	case OffsiteAzure:
		return c.validateAzure()
	default:
		return errors.NewConfigError("offsite_target", fmt.Sprintf("unsupported target: %s", c.OffsiteTarget))
	}
	return nil
}

func (c *Config) ValidateCleanup() error {
	if !c.HasRetention() {
		return errors.NewConfigError("retention_count", "retention_count or retention_days is required")
	}
	if c.BackupsDir == "" && !c.HasAzureStorage() && !c.HasR2() {
		return errors.NewConfigError("backups_dir", "no backup location configured")
	}
	return nil
}

func (c *Config) validateR2() error {
	if c.R2AccountID == "" {
		return errors.NewConfigError("r2_account_id", "is required")
	}
	if c.R2AccessKeyID == "" {
		return errors.NewConfigError("r2_access_key_id", "is required")
	}
	if c.R2SecretAccessKey == "" {
		return errors.NewConfigError("r2_secret_access_key", "is required")
	}
	if c.R2BucketName == "" {
		return errors.NewConfigError("r2_bucket_name", "is required")
	}
	return nil
}

func (c *Config) validateAzure() error {
	if c.StorageAccount == "" {
		return errors.NewConfigError("storage_account", "is required")
	}
	if c.StorageAccessKey == "" {
		return errors.NewConfigError("storage_access_key", "is required")
	}
	return nil
}

func (c *Config) HasEncryption() bool {
	return c.EncryptionKey != ""
}

// DecodeEncryptionKey returns the raw 32-byte key.
func (c *Config) DecodeEncryptionKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: must be base64 encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}
	return key, nil
}

func (c *Config) HasRetention() bool {
	return c.RetentionDays > 0 || c.RetentionCount > 0
}

func (c *Config) HasAzureStorage() bool {
	return c.StorageAccount != "" && c.StorageAccessKey != ""
}

func (c *Config) HasR2() bool {
	return c.validateR2() == nil
}

// StorageServiceURL is the blob service root, e.g.
// https://account.blob.core.windows.net. STORAGE_ENDPOINT overrides it
// (Azurite, sovereign clouds).
func (c *Config) StorageServiceURL() string {
	if c.StorageEndpoint != "" {
		return strings.TrimRight(c.StorageEndpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", c.StorageAccount)
}

// EnumerationDSN returns the sqlserver:// DSN used to list the databases of
// the server. DB_CONNECTION_STRING wins when set.
func (c *Config) EnumerationDSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	query := url.Values{}
	query.Set("database", "master")
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.UserName, c.Password),
		Host:     c.ServerName,
		RawQuery: query.Encode(),
	}
	return u.String()
}
