package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPINGEST_WORKERS", "7")
	t.Setenv("SPINGEST_STORE", "memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Ingest.Workers)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, ":8484", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Ingest.JobTimeout)
	assert.Equal(t, "RUN", cfg.Ingest.RunIDPrefix)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: sqlite
sqlite:
  path: /var/lib/spingest.db
ingest:
  workers: 2
  job_timeout: 5m
log:
  level: debug
`), 0o644))
	t.Setenv("SPINGEST_WORKERS", "9")
	t.Setenv("SURREALDB_PASS", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/spingest.db", cfg.SQLite.Path)
	assert.Equal(t, 9, cfg.Ingest.Workers, "environment wins over YAML")
	assert.Equal(t, 5*time.Minute, cfg.Ingest.JobTimeout)
	assert.Equal(t, "secret", cfg.SurrealDB.Pass)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SPINGEST_RUN_ID_PREFIX=ENG\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SPINGEST_RUN_ID_PREFIX") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ENG", cfg.Ingest.RunIDPrefix)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Store:  StoreConfig{Backend: "postgres"},
		Ingest: IngestConfig{Workers: 0, QueueSize: 1, OwnerConcurrency: 1, JobTimeout: time.Minute},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
	assert.Contains(t, err.Error(), "ingest.workers")
}

func TestSharePointEnabled(t *testing.T) {
	assert.False(t, SharePointConfig{TenantID: "t", ClientID: "c"}.Enabled())
	assert.True(t, SharePointConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}.Enabled())
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("job queued", "job_id", "j1")

	assert.Contains(t, stderr.String(), "job_id=j1")
	assert.Contains(t, file.String(), `"job_id":"j1"`)
	assert.NotContains(t, stderr.String(), "hidden")
}

func TestSetupLoggerCreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "spingest.log")
	logger, cleanup := SetupLogger(LogConfig{File: path, Level: "debug"})
	logger.Debug("run allocated", "run_id", "RUN-000001")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"RUN-000001"`)
}
