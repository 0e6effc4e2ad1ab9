// Package service implements run bookkeeping, ingestion jobs and status queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/yashugupta786/sp/internal/metrics"
	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
)

// DefaultRunPrefix prefixes every allocated run id (RUN-000001).
const DefaultRunPrefix = "RUN"

const runSequence = "run"

// docRunNamespace scopes the deterministic doc-run ids.
var docRunNamespace = uuid.MustParse("7d1c4f0e-5b7a-4e6b-9a39-2f1f8d3c6a51")

// DocRunID identifies one (tenant, engagement, year, quarter, sub-category, owner)
// scope. The same tuple always yields the same id.
func DocRunID(tenantID, engagementID string, year int, quarter, subCategory, owner string) string {
	key := strings.Join([]string{tenantID, engagementID, fmt.Sprint(year), quarter, subCategory, owner}, "\x1f")
	return uuid.NewSHA1(docRunNamespace, []byte(key)).String()
}

// RunRegistry owns the single run record per tenant/engagement pair.
type RunRegistry struct {
	store          store.Store
	logger         *slog.Logger
	metrics        *metrics.Collector
	prefix         string
	mergeAttempts  uint64
	mergeBaseDelay time.Duration

	locksMu sync.Mutex
	locks   map[string]*runLock
}

// runLock serializes merges of one run. refs counts holders and waiters so
// the entry can be dropped once nobody uses it.
type runLock struct {
	sync.Mutex
	refs int
}

// NewRunRegistry creates a registry. An empty prefix uses DefaultRunPrefix.
func NewRunRegistry(s store.Store, prefix string, logger *slog.Logger, mc *metrics.Collector) *RunRegistry {
	if prefix == "" {
		prefix = DefaultRunPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRegistry{
		store:          s,
		logger:         logger,
		metrics:        mc,
		prefix:         prefix,
		mergeAttempts:  8,
		mergeBaseDelay: 10 * time.Millisecond,
		locks:          make(map[string]*runLock),
	}
}

// GetOrCreateRun returns the run for the pair, allocating a new run id on first use.
func (r *RunRegistry) GetOrCreateRun(ctx context.Context, tenantID, engagementID string) (*models.Run, error) {
	run, err := r.store.GetRun(ctx, tenantID, engagementID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get run: %w", err)
	}

	seq, err := r.store.NextSequence(ctx, runSequence)
	if err != nil {
		return nil, fmt.Errorf("allocate run id: %w", err)
	}
	now := time.Now().UTC()
	run = &models.Run{
		RunID:        fmt.Sprintf("%s-%06d", r.prefix, seq),
		TenantID:     tenantID,
		EngagementID: engagementID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = r.store.InsertRun(ctx, run)
	switch {
	case err == nil:
		r.logger.Info("run created", "run_id", run.RunID, "tenant_id", tenantID, "engagement_id", engagementID)
		return run, nil
	case errors.Is(err, store.ErrAlreadyExists):
		// Lost the race against a concurrent first trigger; its run wins.
		r.logger.Debug("run allocated concurrently", "discarded_run_id", run.RunID, "tenant_id", tenantID)
		existing, getErr := r.store.GetRun(ctx, tenantID, engagementID)
		if getErr != nil {
			return nil, fmt.Errorf("get run after conflict: %w", getErr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("insert run: %w", err)
	}
}

// Lookup returns the stored run or store.ErrNotFound.
func (r *RunRegistry) Lookup(ctx context.Context, tenantID, engagementID string) (*models.Run, error) {
	return r.store.GetRun(ctx, tenantID, engagementID)
}

// MergeEntries folds entries into the run's tree and returns the stored run.
// Owners already present keep their DocRunID. Writes to one run are serialized
// in-process and guarded by a version check at the store, so concurrent merges
// from other processes are retried rather than lost.
func (r *RunRegistry) MergeEntries(ctx context.Context, run *models.Run, entries []models.MetadataEntry) (*models.Run, error) {
	unlock := r.lockRun(run.RunID)
	defer unlock()

	current := run
	var merged *models.Run

	operation := func() error {
		tree := current.Tree.Clone()
		if tree.Merge(entries...) == 0 {
			merged = current
			return nil
		}

		updated, err := r.store.UpdateRunTree(ctx, current.RunID, current.Version, tree)
		if err == nil {
			merged = updated
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return backoff.Permanent(fmt.Errorf("update run tree: %w", err))
		}

		r.metrics.Add(metrics.CounterMergeConflicts, 1)
		r.logger.Debug("run tree changed concurrently, retrying", "run_id", current.RunID, "version", current.Version)
		fresh, getErr := r.store.GetRun(ctx, current.TenantID, current.EngagementID)
		if getErr != nil {
			return backoff.Permanent(fmt.Errorf("reload run: %w", getErr))
		}
		current = fresh
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.mergeBaseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.mergeAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("merge run %s: %w", run.RunID, err)
	}
	return merged, nil
}

// lockRun takes the in-process lock of runID and returns its release.
func (r *RunRegistry) lockRun(runID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[runID]
	if !ok {
		l = &runLock{}
		r.locks[runID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, runID)
		}
		r.locksMu.Unlock()
	}
}
