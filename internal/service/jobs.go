package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashugupta786/sp/internal/metrics"
	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
	"github.com/yashugupta786/sp/internal/taxonomy"
)

var (
	// ErrInvalidRequest marks a trigger request missing required fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrQueueFull is returned when no worker can accept the job.
	ErrQueueFull = errors.New("ingestion queue is full")

	// ErrNotRunning is returned when jobs are triggered before Start or after Stop.
	ErrNotRunning = errors.New("job manager is not running")
)

// Failure reasons recorded on jobs that never finished on their own.
const (
	reasonInterrupted = "interrupted: server restarted before completion"
	reasonPanic       = "internal error while ingesting"
)

// TriggerRequest asks for one ingestion job.
type TriggerRequest struct {
	SiteURL      string
	FolderPath   string
	TenantID     string
	EngagementID string
	Mode         models.JobMode
	// Year and Quarter select the period for ModeQuarter.
	Year    int
	Quarter string
}

// Validate checks structural presence of the inputs. An empty Mode is valid
// and means ModeFull.
func (r TriggerRequest) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"siteUrl":      r.SiteURL,
		"folderPath":   r.FolderPath,
		"tenantId":     r.TenantID,
		"engagementId": r.EngagementID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if r.Mode != "" && !r.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.Mode == models.ModeQuarter {
		if r.Year < 1900 || r.Year > 9999 {
			return fmt.Errorf("%w: year %d out of range", ErrInvalidRequest, r.Year)
		}
		if !taxonomy.ValidQuarter(r.Quarter) {
			return fmt.Errorf("%w: quarter must be one of Q1..Q4", ErrInvalidRequest)
		}
	}
	return nil
}

// Executor runs one job. *Orchestrator implements it.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) (Outcome, error)
}

// JobManagerConfig sizes the worker pool.
type JobManagerConfig struct {
	Workers   int
	QueueSize int
	// JobTimeout bounds one job's context.
	JobTimeout time.Duration
	// WatchdogGrace is how long past JobTimeout a job may ignore its context
	// before the watchdog records it as failed.
	WatchdogGrace time.Duration
}

// JobManager accepts jobs and runs them on a bounded pool of workers.
type JobManager struct {
	store    store.Store
	executor Executor
	logger   *slog.Logger
	metrics  *metrics.Collector
	cfg      JobManagerConfig

	mu      sync.RWMutex
	queue   chan *models.Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJobManager creates a job manager. Call Start before triggering jobs.
func NewJobManager(s store.Store, executor Executor, cfg JobManagerConfig, logger *slog.Logger, mc *metrics.Collector) *JobManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.WatchdogGrace <= 0 {
		cfg.WatchdogGrace = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		store:    s,
		executor: executor,
		logger:   logger,
		metrics:  mc,
		cfg:      cfg,
		queue:    make(chan *models.Job, cfg.QueueSize),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (m *JobManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	for i := range m.cfg.Workers {
		m.wg.Add(1)
		go func(workerID int) {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-m.queue:
					m.run(ctx, workerID, job)
				}
			}
		}(i)
	}
	m.logger.Info("job workers started", "workers", m.cfg.Workers, "queue_size", m.cfg.QueueSize)
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still in
// flight are recorded as failed by the cancellation.
func (m *JobManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("job workers stopped")
}

// Trigger records a pending job and queues it without waiting for it to run.
func (m *JobManager) Trigger(ctx context.Context, req TriggerRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = models.ModeFull
	}

	job := &models.Job{
		ID:           uuid.NewString(),
		TenantID:     strings.TrimSpace(req.TenantID),
		EngagementID: strings.TrimSpace(req.EngagementID),
		SiteURL:      strings.TrimSpace(req.SiteURL),
		FolderPath:   strings.TrimSpace(req.FolderPath),
		Mode:         req.Mode,
		Status:       models.JobPending,
		CreatedAt:    time.Now().UTC(),
	}
	if req.Mode == models.ModeQuarter {
		job.Year = req.Year
		job.Quarter = taxonomy.NormalizeQuarter(req.Quarter)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, ErrNotRunning
	}

	if err := m.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	select {
	case m.queue <- job:
	default:
		m.finish(context.WithoutCancel(ctx), job, models.JobResult{Status: models.JobFailed, Error: ErrQueueFull.Error()})
		return nil, ErrQueueFull
	}

	m.logger.Info("job queued", "job_id", job.ID, "mode", job.Mode, "tenant_id", job.TenantID, "engagement_id", job.EngagementID, "folder", job.FolderPath)
	return job, nil
}

// run executes one job under a timeout, a panic guard and a watchdog.
func (m *JobManager) run(ctx context.Context, workerID int, job *models.Job) {
	log := m.logger.With("job_id", job.ID, "worker", workerID)
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("job panicked", "panic", r)
				done <- result{err: fmt.Errorf("%s: %v", reasonPanic, r)}
			}
		}()
		outcome, err := m.executor.Execute(jobCtx, job)
		done <- result{outcome: outcome, err: err}
	}()

	watchdog := time.NewTimer(m.cfg.JobTimeout + m.cfg.WatchdogGrace)
	defer watchdog.Stop()

	// Terminal writes must land even when the worker context is gone.
	writeCtx := context.WithoutCancel(ctx)

	select {
	case res := <-done:
		m.metrics.RecordResult(metrics.OpJob, time.Since(start), res.err)
		if res.err != nil {
			m.finish(writeCtx, job, models.JobResult{
				Status: models.JobFailed,
				RunID:  res.outcome.RunID,
				Error:  m.failureReason(ctx, res.err),
			})
			return
		}
		m.finish(writeCtx, job, models.JobResult{
			Status:        models.JobComplete,
			RunID:         res.outcome.RunID,
			DocumentCount: res.outcome.Documents,
		})
	case <-ctx.Done():
		m.metrics.RecordResult(metrics.OpJob, time.Since(start), ctx.Err())
		m.finish(writeCtx, job, models.JobResult{Status: models.JobFailed, Error: reasonInterrupted})
	case <-watchdog.C:
		m.metrics.RecordResult(metrics.OpJob, time.Since(start), context.DeadlineExceeded)
		log.Error("job did not stop after its deadline", "timeout", m.cfg.JobTimeout)
		m.finish(writeCtx, job, models.JobResult{
			Status: models.JobFailed,
			Error:  fmt.Sprintf("ingestion timed out after %s", m.cfg.JobTimeout),
		})
	}
}

// failureReason renders the error text stored on a failed job.
func (m *JobManager) failureReason(workerCtx context.Context, err error) string {
	switch {
	case workerCtx.Err() != nil:
		return reasonInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("ingestion timed out after %s: %v", m.cfg.JobTimeout, err)
	}
	return err.Error()
}

// finish applies the terminal state once. A job that is already terminal is left alone.
func (m *JobManager) finish(ctx context.Context, job *models.Job, result models.JobResult) {
	result.CompletedAt = time.Now().UTC()
	log := m.logger.With("job_id", job.ID)

	_, err := m.store.FinishJob(ctx, job.ID, result)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		log.Warn("job already finished, dropping late result", "status", result.Status)
		return
	default:
		log.Error("failed to record job result", "status", result.Status, "error", err)
		return
	}

	if result.Status == models.JobComplete {
		m.metrics.Add(metrics.CounterJobsCompleted, 1)
		log.Info("job completed", "run_id", result.RunID, "documents", result.DocumentCount)
		return
	}
	m.metrics.Add(metrics.CounterJobsFailed, 1)
	log.Error("job failed", "run_id", result.RunID, "error", result.Error)
}

// FailInterruptedJobs marks jobs left pending by a previous process as failed.
// It must run before Start.
func (m *JobManager) FailInterruptedJobs(ctx context.Context) (int, error) {
	pending, err := m.store.ListJobs(ctx, store.JobFilter{Status: models.JobPending})
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	if len(pending) == 0 {
		m.logger.Info("no interrupted jobs")
		return 0, nil
	}

	failed := 0
	for _, job := range pending {
		_, err := m.store.FinishJob(ctx, job.ID, models.JobResult{
			Status:      models.JobFailed,
			RunID:       job.RunID,
			Error:       reasonInterrupted,
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			if !errors.Is(err, store.ErrConflict) {
				m.logger.Warn("failed to fail interrupted job", "job_id", job.ID, "error", err)
			}
			continue
		}
		failed++
	}
	m.logger.Info("failed interrupted jobs", "count", failed)
	return failed, nil
}

// GetJob returns a job or store.ErrNotFound.
func (m *JobManager) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs newest first.
func (m *JobManager) ListJobs(ctx context.Context, filter store.JobFilter) ([]models.Job, error) {
	return m.store.ListJobs(ctx, filter)
}
