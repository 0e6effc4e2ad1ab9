package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yashugupta786/sp/internal/metrics"
	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/source"
	"github.com/yashugupta786/sp/internal/store"
	"github.com/yashugupta786/sp/internal/taxonomy"
)

// ErrInvalidSourceFolder marks a folder path whose last segment is not a period folder.
var ErrInvalidSourceFolder = errors.New("invalid source folder")

// OrchestratorConfig tunes job execution.
type OrchestratorConfig struct {
	// OwnerConcurrency bounds how many owner folders are transferred at once.
	OwnerConcurrency int
	// Retry wraps every provider call.
	Retry source.RetryPolicy
}

// Outcome summarizes one executed job.
type Outcome struct {
	RunID          string
	Documents      int
	OwnersSkipped  int
	DedupSkipped   int
	EntriesAdded   int
	OwnersTotal    int
	DiscoveredTree bool
}

// Orchestrator runs ingestion jobs end to end.
type Orchestrator struct {
	store    store.Store
	resolver *source.Resolver
	registry *RunRegistry
	logger   *slog.Logger
	metrics  *metrics.Collector
	cfg      OrchestratorConfig
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(s store.Store, resolver *source.Resolver, registry *RunRegistry, cfg OrchestratorConfig, logger *slog.Logger, mc *metrics.Collector) *Orchestrator {
	if cfg.OwnerConcurrency <= 0 {
		cfg.OwnerConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    s,
		resolver: resolver,
		registry: registry,
		logger:   logger,
		metrics:  mc,
		cfg:      cfg,
	}
}

// abortError marks a failure inside one owner that aborts the whole job:
// store faults and rejected credentials. Other provider failures only skip
// the owner.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// providerError classifies a provider failure inside an owner.
func providerError(err error) error {
	if errors.Is(err, source.ErrUnauthorized) {
		return &abortError{err}
	}
	return err
}

// ownerTarget is one owner folder to transfer.
type ownerTarget struct {
	entry models.MetadataEntry
	path  string
}

// Execute runs job and returns its outcome. Provider failures of a single
// owner folder are logged and skipped; any other error aborts the job.
func (o *Orchestrator) Execute(ctx context.Context, job *models.Job) (Outcome, error) {
	log := o.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "engagement_id", job.EngagementID)

	period, folder, err := resolvePeriod(job)
	if err != nil {
		return Outcome{}, err
	}
	log = log.With("period", period.Label())

	provider, err := o.resolver.Resolve(ctx, job.SiteURL)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve source: %w", err)
	}
	provider = source.WithResilience(provider, o.cfg.Retry, log, o.metrics)

	run, err := o.registry.GetOrCreateRun(ctx, job.TenantID, job.EngagementID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{RunID: run.RunID}
	log = log.With("run_id", run.RunID)

	entries := run.Tree.Entries(period.Year, period.Quarter)
	switch {
	case job.Mode == models.ModeQuarter && len(entries) == 0:
		return out, fmt.Errorf("no taxonomy recorded for %s", period.Label())
	case len(entries) == 0 || job.Mode == models.ModeDiscover:
		discovered, err := o.discover(ctx, provider, job, period, folder)
		if err != nil {
			return out, err
		}
		before := len(run.Tree.AllEntries())
		run, err = o.registry.MergeEntries(ctx, run, discovered)
		if err != nil {
			return out, err
		}
		out.EntriesAdded = len(run.Tree.AllEntries()) - before
		out.DiscoveredTree = true
		entries = run.Tree.Entries(period.Year, period.Quarter)
		log.Info("taxonomy discovered", "owners", len(discovered), "added", out.EntriesAdded)
	default:
		// Recorded owners are only trusted while the period folder still exists.
		if _, err := provider.ListFolders(ctx, folder); err != nil {
			return out, fmt.Errorf("list source folder %s: %w", folder, err)
		}
		log.Debug("reusing recorded taxonomy", "owners", len(entries))
	}

	if job.Mode == models.ModeDiscover {
		return out, nil
	}

	targets := make([]ownerTarget, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, ownerTarget{entry: e, path: taxonomy.Join(folder, e.SubCategory, e.Owner)})
	}
	out.OwnersTotal = len(targets)

	var stored, skippedOwners, dedupSkipped atomic.Int64
	dedup := NewDedupIndex(o.store)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.OwnerConcurrency)
	for _, t := range targets {
		g.Go(func() error {
			n, skipped, err := o.transferOwner(gctx, provider, dedup, job, run, t)
			stored.Add(int64(n))
			dedupSkipped.Add(int64(skipped))
			var ae *abortError
			if errors.As(err, &ae) {
				return ae.err
			}
			if err != nil {
				skippedOwners.Add(1)
				o.metrics.Add(metrics.CounterOwnersSkipped, 1)
				log.Warn("owner skipped", "sub_category", t.entry.SubCategory, "owner", t.entry.Owner, "path", t.path, "error", err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	out.Documents = int(stored.Load())
	out.OwnersSkipped = int(skippedOwners.Load())
	out.DedupSkipped = int(dedupSkipped.Load())
	if waitErr != nil {
		return out, waitErr
	}

	// Owner errors never abort the job, but an expired job context does.
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("ingestion aborted: %w", err)
	}

	log.Info("ingestion finished",
		"documents", out.Documents,
		"dedup_skipped", out.DedupSkipped,
		"owners", out.OwnersTotal,
		"owners_skipped", out.OwnersSkipped)
	return out, nil
}

// resolvePeriod derives the period and its folder from the job.
func resolvePeriod(job *models.Job) (taxonomy.Period, string, error) {
	segment := taxonomy.TrailingSegment(job.FolderPath)
	parsed, ok := taxonomy.ParseQuarterFolder(segment)

	if job.Mode != models.ModeQuarter {
		if !ok {
			return taxonomy.Period{}, "", fmt.Errorf("%w: %s", ErrInvalidSourceFolder, segment)
		}
		return parsed, job.FolderPath, nil
	}

	// Quarter jobs name the period explicitly; the folder path is either the
	// period folder itself or its parent.
	want := taxonomy.Period{Year: job.Year, Quarter: taxonomy.NormalizeQuarter(job.Quarter)}
	if ok && parsed == want {
		return want, job.FolderPath, nil
	}
	return want, taxonomy.Join(job.FolderPath, want.Label()), nil
}

// discover walks sub-category folders and the owner folders inside them.
func (o *Orchestrator) discover(ctx context.Context, provider source.Provider, job *models.Job, period taxonomy.Period, folder string) ([]models.MetadataEntry, error) {
	subCategories, err := provider.ListFolders(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("list sub-categories: %w", err)
	}

	var entries []models.MetadataEntry
	for _, sub := range subCategories {
		owners, err := provider.ListFolders(ctx, sub.Path)
		if err != nil {
			return nil, fmt.Errorf("list owners of %s: %w", sub.Name, err)
		}
		for _, owner := range owners {
			entries = append(entries, models.MetadataEntry{
				Year:        period.Year,
				Quarter:     period.Quarter,
				SubCategory: sub.Name,
				Owner:       owner.Name,
				DocRunID:    DocRunID(job.TenantID, job.EngagementID, period.Year, period.Quarter, sub.Name, owner.Name),
			})
		}
	}
	return entries, nil
}

// transferOwner stores every new file below one owner folder and returns the
// number of stored documents and dedup skips.
func (o *Orchestrator) transferOwner(ctx context.Context, provider source.Provider, dedup *DedupIndex, job *models.Job, run *models.Run, t ownerTarget) (stored, skipped int, err error) {
	files, err := provider.ListFiles(ctx, t.path)
	if err != nil {
		return 0, 0, providerError(fmt.Errorf("list files: %w", err))
	}

	for _, f := range files {
		content, err := provider.FetchContent(ctx, f)
		if err != nil {
			return stored, skipped, providerError(fmt.Errorf("fetch %s: %w", f.RelativePath, err))
		}

		fp := Fingerprint(content)
		admitted, err := dedup.Admit(ctx, t.entry.DocRunID, fp)
		if err != nil {
			return stored, skipped, &abortError{err}
		}
		if !admitted {
			skipped++
			o.metrics.Add(metrics.CounterDedupSkipped, 1)
			continue
		}

		now := time.Now().UTC()
		doc := &models.Document{
			ID:               ulid.Make().String(),
			DocRunID:         t.entry.DocRunID,
			RunID:            run.RunID,
			TenantID:         job.TenantID,
			EngagementID:     job.EngagementID,
			Year:             t.entry.Year,
			Quarter:          t.entry.Quarter,
			SubCategory:      t.entry.SubCategory,
			Owner:            t.entry.Owner,
			JobID:            job.ID,
			OriginalFilename: f.Name,
			SourcePath:       f.Path,
			Content:          base64.StdEncoding.EncodeToString(content),
			Fingerprint:      fp,
			Steps:            []models.Step{{Name: models.StepIngested, Result: models.StepResultSuccess, At: now}},
			CreatedAt:        now,
		}

		err = o.store.InsertDocument(ctx, doc)
		switch {
		case err == nil:
			stored++
			o.metrics.Add(metrics.CounterDocumentsStored, 1)
		case errors.Is(err, store.ErrAlreadyExists):
			// A concurrent job stored the same content first.
			skipped++
			o.metrics.Add(metrics.CounterDedupSkipped, 1)
		default:
			dedup.Forget(t.entry.DocRunID, fp)
			return stored, skipped, &abortError{fmt.Errorf("store %s: %w", f.RelativePath, err)}
		}
	}
	return stored, skipped, nil
}
