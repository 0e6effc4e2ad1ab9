// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yashugupta786/sp/internal/store"
)

// Config controls the SQLite connection.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Store wraps a pooled sqlx.DB connection.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database at cfg.Path and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 1
	}
	db.SetMaxOpenConns(conns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database resources.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		tree TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (tenant_id, engagement_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS ingest_jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		site_url TEXT NOT NULL,
		folder_path TEXT NOT NULL,
		mode TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		quarter TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		document_count INTEGER NOT NULL DEFAULT 0,
		documents_uploaded INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_jobs_tenant ON ingest_jobs(tenant_id, engagement_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		doc_run_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		engagement_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		quarter TEXT NOT NULL,
		sub_category TEXT NOT NULL,
		owner TEXT NOT NULL,
		job_id TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		source_path TEXT NOT NULL,
		content TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		steps TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (doc_run_id, fingerprint)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_documents_job ON documents(job_id);`,
}

// wrapError maps driver errors onto the store sentinels.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, se.Error())
		}
	}
	return err
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
