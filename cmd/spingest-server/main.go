// Package main provides the HTTP ingestion server for spingest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yashugupta786/sp/internal/config"
	"github.com/yashugupta786/sp/internal/db"
	"github.com/yashugupta786/sp/internal/metrics"
	"github.com/yashugupta786/sp/internal/server"
	"github.com/yashugupta786/sp/internal/service"
	"github.com/yashugupta786/sp/internal/source"
	"github.com/yashugupta786/sp/internal/source/localfs"
	"github.com/yashugupta786/sp/internal/source/s3"
	"github.com/yashugupta786/sp/internal/source/sharepoint"
	"github.com/yashugupta786/sp/internal/store"
	"github.com/yashugupta786/sp/internal/store/memstore"
	"github.com/yashugupta786/sp/internal/store/sqlite"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "spingest.yaml", "path to the YAML config file (optional)")
	wipeDB := flag.Bool("wipe", false, "wipe all data from the SurrealDB store on startup (testing only)")
	flag.Parse()

	if err := run(*configPath, *wipeDB || os.Getenv("SPINGEST_WIPE_DB") == "true"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, wipe bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.Log)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("spingest-server starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"workers", cfg.Ingest.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mc := metrics.NewCollector()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := openStore(initCtx, cfg, logger, mc, wipe)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing store")
		if err := st.Close(context.Background()); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	resolver, err := newResolver(cfg, logger)
	if err != nil {
		return err
	}

	registry := service.NewRunRegistry(st, cfg.Ingest.RunIDPrefix, logger, mc)
	orchestrator := service.NewOrchestrator(st, resolver, registry, service.OrchestratorConfig{
		OwnerConcurrency: cfg.Ingest.OwnerConcurrency,
		Retry: source.RetryPolicy{
			CallTimeout: cfg.Ingest.CallTimeout,
			MaxAttempts: cfg.Ingest.RetryAttempts,
		},
	}, logger, mc)

	jobs := service.NewJobManager(st, orchestrator, service.JobManagerConfig{
		Workers:       cfg.Ingest.Workers,
		QueueSize:     cfg.Ingest.QueueSize,
		JobTimeout:    cfg.Ingest.JobTimeout,
		WatchdogGrace: cfg.Ingest.WatchdogGrace,
	}, logger, mc)

	// Jobs left pending by a previous process can never finish now.
	n, err := jobs.FailInterruptedJobs(ctx)
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n)
	}

	jobs.Start(ctx)
	defer jobs.Stop()

	srv := server.New(server.Options{
		Jobs:          jobs,
		Poller:        service.NewStatusPoller(st),
		Registry:      registry,
		Metrics:       mc,
		Logger:        logger,
		WatchInterval: cfg.Server.WatchInterval,
	})

	logger.Info("server ready", "url", fmt.Sprintf("http://localhost%s/api/v1", cfg.Server.Addr))
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, mc *metrics.Collector, wipe bool) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:             cfg.SurrealDB.URL,
			Namespace:       cfg.SurrealDB.Namespace,
			Database:        cfg.SurrealDB.Database,
			Username:        cfg.SurrealDB.User,
			Password:        cfg.SurrealDB.Pass,
			AuthLevel:       cfg.SurrealDB.AuthLevel,
			ConflictRetries: cfg.SurrealDB.ConflictRetries,
		}, logger, mc)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("initialize database schema: %w", err)
		}
		if wipe {
			logger.Warn("wiping all data from database")
			if err := client.WipeData(ctx); err != nil {
				_ = client.Close(ctx)
				return nil, fmt.Errorf("wipe database: %w", err)
			}
		}
		return client, nil

	case config.BackendSQLite:
		if wipe {
			logger.Warn("-wipe is only supported by the surrealdb store; ignoring")
		}
		s, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLite.Path, BusyTimeout: cfg.SQLite.BusyTimeout})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil

	case config.BackendMemory:
		logger.Warn("using in-memory store; jobs and runs are lost on restart")
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// newResolver registers a provider factory for every configured source kind.
func newResolver(cfg *config.Config, logger *slog.Logger) (*source.Resolver, error) {
	resolver := source.NewResolver()

	if cfg.Sources.FileRoot != "" {
		resolver.Register(source.KindFile, localfs.Factory(cfg.Sources.FileRoot))
		logger.Info("file source enabled", "root", cfg.Sources.FileRoot)
	}

	if sp := cfg.Sources.SharePoint; sp.Enabled() {
		tokens, err := sharepoint.NewClientSecretTokenSource(sp.TenantID, sp.ClientID, sp.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("sharepoint credentials: %w", err)
		}
		var opts []sharepoint.Option
		if sp.GraphURL != "" {
			opts = append(opts, sharepoint.WithBaseURL(sp.GraphURL))
		}
		resolver.Register(source.KindSharePoint, sharepoint.Factory(tokens, opts...))
		logger.Info("sharepoint source enabled", "tenant_id", sp.TenantID)
	}

	if s3cfg := cfg.Sources.S3; s3cfg.Enabled {
		resolver.Register(source.KindS3, s3.Factory(s3.ClientConfig{
			Region:       s3cfg.Region,
			Endpoint:     s3cfg.Endpoint,
			UsePathStyle: s3cfg.UsePathStyle,
		}))
		logger.Info("s3 source enabled", "region", s3cfg.Region, "endpoint", s3cfg.Endpoint)
	}

	return resolver, nil
}
