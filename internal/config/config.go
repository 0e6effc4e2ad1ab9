// Package config loads server configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSurrealDB = "surrealdb"
	BackendSQLite    = "sqlite"
	BackendMemory    = "memory"
)

// Config holds all configuration values.
// Environment variables override YAML values. Secrets only come from the environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	SurrealDB SurrealDBConfig `yaml:"surrealdb"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Sources   SourcesConfig   `yaml:"sources"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SPINGEST_ADDR" env-default:":8484"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SPINGEST_SHUTDOWN_TIMEOUT" env-default:"15s"`
	WatchInterval   time.Duration `yaml:"watch_interval" env:"SPINGEST_WATCH_INTERVAL" env-default:"500ms"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"SPINGEST_STORE" env-default:"surrealdb"`
}

// SurrealDBConfig holds the SurrealDB connection.
type SurrealDBConfig struct {
	URL             string `yaml:"url" env:"SURREALDB_URL" env-default:"ws://localhost:8000/rpc"`
	Namespace       string `yaml:"namespace" env:"SURREALDB_NAMESPACE" env-default:"ingest"`
	Database        string `yaml:"database" env:"SURREALDB_DATABASE" env-default:"documents"`
	User            string `yaml:"user" env:"SURREALDB_USER" env-default:"root"`
	Pass            string `yaml:"-" env:"SURREALDB_PASS" env-default:"root"`
	AuthLevel       string `yaml:"auth_level" env:"SURREALDB_AUTH_LEVEL" env-default:"root"`
	ConflictRetries int    `yaml:"conflict_retries" env:"SURREALDB_CONFLICT_RETRIES" env-default:"5"`
}

// SQLiteConfig holds the embedded database settings.
type SQLiteConfig struct {
	Path        string        `yaml:"path" env:"SPINGEST_SQLITE_PATH" env-default:"spingest.db"`
	BusyTimeout time.Duration `yaml:"busy_timeout" env:"SPINGEST_SQLITE_BUSY_TIMEOUT" env-default:"5s"`
}

// IngestConfig tunes job execution.
type IngestConfig struct {
	Workers          int           `yaml:"workers" env:"SPINGEST_WORKERS" env-default:"4"`
	QueueSize        int           `yaml:"queue_size" env:"SPINGEST_QUEUE_SIZE" env-default:"100"`
	JobTimeout       time.Duration `yaml:"job_timeout" env:"SPINGEST_JOB_TIMEOUT" env-default:"30m"`
	WatchdogGrace    time.Duration `yaml:"watchdog_grace" env:"SPINGEST_WATCHDOG_GRACE" env-default:"30s"`
	OwnerConcurrency int           `yaml:"owner_concurrency" env:"SPINGEST_OWNER_CONCURRENCY" env-default:"4"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"SPINGEST_CALL_TIMEOUT" env-default:"60s"`
	RetryAttempts    int           `yaml:"retry_attempts" env:"SPINGEST_RETRY_ATTEMPTS" env-default:"3"`
	RunIDPrefix      string        `yaml:"run_id_prefix" env:"SPINGEST_RUN_ID_PREFIX" env-default:"RUN"`
}

// SourcesConfig configures the tree providers.
type SourcesConfig struct {
	// FileRoot confines file:// sources below a directory. Empty disables file:// sources.
	FileRoot   string           `yaml:"file_root" env:"SPINGEST_FILE_ROOT"`
	SharePoint SharePointConfig `yaml:"sharepoint"`
	S3         S3Config         `yaml:"s3"`
}

// SharePointConfig holds the app registration used for Microsoft Graph.
type SharePointConfig struct {
	TenantID     string `yaml:"tenant_id" env:"SHAREPOINT_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"SHAREPOINT_CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"SHAREPOINT_CLIENT_SECRET"`
	GraphURL     string `yaml:"graph_url" env:"SHAREPOINT_GRAPH_URL"`
}

// Enabled reports whether credentials are configured.
func (c SharePointConfig) Enabled() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// S3Config configures the S3 client. Credentials come from the AWS default chain.
type S3Config struct {
	Enabled      bool   `yaml:"enabled" env:"SPINGEST_S3_ENABLED" env-default:"false"`
	Region       string `yaml:"region" env:"AWS_REGION"`
	Endpoint     string `yaml:"endpoint" env:"SPINGEST_S3_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" env:"SPINGEST_S3_PATH_STYLE" env-default:"false"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `yaml:"file" env:"SPINGEST_LOG_FILE" env-default:"/tmp/spingest.log"`
	Level string `yaml:"level" env:"SPINGEST_LOG_LEVEL" env-default:"INFO"`
}

// Load reads path (if it exists) with environment overrides. A .env file in
// the working directory is loaded first without overriding the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendSurrealDB, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of %s, %s, %s; got %q",
			BackendSurrealDB, BackendSQLite, BackendMemory, c.Store.Backend))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers))
	}
	if c.Ingest.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("ingest.queue_size must be positive, got %d", c.Ingest.QueueSize))
	}
	if c.Ingest.OwnerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("ingest.owner_concurrency must be positive, got %d", c.Ingest.OwnerConcurrency))
	}
	if c.Ingest.JobTimeout <= 0 {
		errs = append(errs, errors.New("ingest.job_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	return parseLogLevel(c.Log.Level)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
