package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
)

// runRow is the stored shape of a run record.
type runRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	EngagementID string                 `json:"engagement_id"`
	Tree         models.MetadataTree    `json:"tree"`
	Version      int64                  `json:"version"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

func (r runRow) model() (*models.Run, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return nil, err
	}
	return &models.Run{
		RunID:        id,
		TenantID:     r.TenantID,
		EngagementID: r.EngagementID,
		Tree:         r.Tree,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// jobRow is the stored shape of an ingest_job record.
type jobRow struct {
	ID                surrealmodels.RecordID `json:"id"`
	TenantID          string                 `json:"tenant_id"`
	EngagementID      string                 `json:"engagement_id"`
	SiteURL           string                 `json:"site_url"`
	FolderPath        string                 `json:"folder_path"`
	Mode              string                 `json:"mode"`
	Year              int                    `json:"year"`
	Quarter           string                 `json:"quarter"`
	Status            string                 `json:"status"`
	RunID             string                 `json:"run_id"`
	Error             string                 `json:"error"`
	DocumentCount     int                    `json:"document_count"`
	DocumentsUploaded bool                   `json:"documents_uploaded"`
	CreatedAt         time.Time              `json:"created_at"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
}

func (r jobRow) model() (models.Job, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Job{}, err
	}
	return models.Job{
		ID:                id,
		TenantID:          r.TenantID,
		EngagementID:      r.EngagementID,
		SiteURL:           r.SiteURL,
		FolderPath:        r.FolderPath,
		Mode:              models.JobMode(r.Mode),
		Year:              r.Year,
		Quarter:           r.Quarter,
		Status:            models.JobStatus(r.Status),
		RunID:             r.RunID,
		Error:             r.Error,
		DocumentCount:     r.DocumentCount,
		DocumentsUploaded: r.DocumentsUploaded,
		CreatedAt:         r.CreatedAt,
		CompletedAt:       r.CompletedAt,
	}, nil
}

// documentRow is the stored shape of a document record without its content.
type documentRow struct {
	ID               surrealmodels.RecordID `json:"id"`
	DocRunID         string                 `json:"doc_run_id"`
	RunID            string                 `json:"run_id"`
	TenantID         string                 `json:"tenant_id"`
	EngagementID     string                 `json:"engagement_id"`
	Year             int                    `json:"year"`
	Quarter          string                 `json:"quarter"`
	SubCategory      string                 `json:"sub_category"`
	Owner            string                 `json:"owner"`
	JobID            string                 `json:"job_id"`
	OriginalFilename string                 `json:"original_filename"`
	SourcePath       string                 `json:"source_path"`
	Fingerprint      string                 `json:"fingerprint"`
	Steps            []models.Step          `json:"steps"`
	CreatedAt        time.Time              `json:"created_at"`
}

// =============================================================================
// RUNS
// =============================================================================

// GetRun implements store.Store.
func (c *Client) GetRun(ctx context.Context, tenantID, engagementID string) (*models.Run, error) {
	results, err := query[[]runRow](ctx, c, `
		SELECT * FROM run WHERE tenant_id = $tenant AND engagement_id = $engagement LIMIT 1
	`, map[string]any{"tenant": tenantID, "engagement": engagementID})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows := first(results)
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0].model()
}

// InsertRun implements store.Store. The unique run_tenant_engagement index
// rejects a second run for the same pair.
func (c *Client) InsertRun(ctx context.Context, run *models.Run) error {
	_, err := query[any](ctx, c, `
		CREATE type::record("run", $id) SET
			tenant_id = $tenant,
			engagement_id = $engagement,
			tree = $tree,
			version = $version,
			created_at = $created,
			updated_at = $updated
	`, map[string]any{
		"id":         run.RunID,
		"tenant":     run.TenantID,
		"engagement": run.EngagementID,
		"tree":       run.Tree,
		"version":    run.Version,
		"created":    run.CreatedAt,
		"updated":    run.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunTree implements store.Store.
func (c *Client) UpdateRunTree(ctx context.Context, runID string, expectedVersion int64, tree models.MetadataTree) (*models.Run, error) {
	results, err := query[[]runRow](ctx, c, `
		UPDATE type::record("run", $id) SET
			tree = $tree,
			version += 1,
			updated_at = time::now()
		WHERE version = $version
		RETURN AFTER
	`, map[string]any{"id": runID, "tree": tree, "version": expectedVersion})
	if err != nil {
		return nil, fmt.Errorf("update run tree: %w", err)
	}

	if rows := first(results); len(rows) > 0 {
		return rows[0].model()
	}

	// Nothing matched: either the run is missing or another writer moved the version.
	current, err := query[[]runRow](ctx, c, `SELECT * FROM type::record("run", $id)`, map[string]any{"id": runID})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	rows := first(current)
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return nil, fmt.Errorf("%w: run %s at version %d, expected %d", store.ErrConflict, runID, rows[0].Version, expectedVersion)
}

// NextSequence implements store.Store.
func (c *Client) NextSequence(ctx context.Context, name string) (int64, error) {
	type sequenceRow struct {
		Current int64 `json:"current"`
	}
	results, err := query[[]sequenceRow](ctx, c, `
		UPSERT type::record("sequence", $name) SET current = (current ?? 0) + 1 RETURN AFTER
	`, map[string]any{"name": name})
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return 0, fmt.Errorf("next sequence %s: empty result", name)
	}
	return rows[0].Current, nil
}

// =============================================================================
// JOBS
// =============================================================================

// InsertJob implements store.Store.
func (c *Client) InsertJob(ctx context.Context, job *models.Job) error {
	_, err := query[any](ctx, c, `
		CREATE type::record("ingest_job", $id) SET
			tenant_id = $tenant,
			engagement_id = $engagement,
			site_url = $site_url,
			folder_path = $folder_path,
			mode = $mode,
			year = $year,
			quarter = $quarter,
			status = $status,
			created_at = $created
	`, map[string]any{
		"id":          job.ID,
		"tenant":      job.TenantID,
		"engagement":  job.EngagementID,
		"site_url":    job.SiteURL,
		"folder_path": job.FolderPath,
		"mode":        string(job.Mode),
		"year":        job.Year,
		"quarter":     job.Quarter,
		"status":      string(job.Status),
		"created":     job.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob implements store.Store.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	results, err := query[[]jobRow](ctx, c, `SELECT * FROM type::record("ingest_job", $id)`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	rows := first(results)
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	job, err := rows[0].model()
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FinishJob implements store.Store. The WHERE clause makes the terminal write
// a compare-and-swap from pending.
func (c *Client) FinishJob(ctx context.Context, jobID string, result models.JobResult) (*models.Job, error) {
	results, err := query[[]jobRow](ctx, c, `
		UPDATE type::record("ingest_job", $id) SET
			status = $status,
			run_id = $run_id,
			error = $error,
			document_count = $count,
			documents_uploaded = $uploaded,
			completed_at = $completed
		WHERE status = "pending"
		RETURN AFTER
	`, map[string]any{
		"id":        jobID,
		"status":    string(result.Status),
		"run_id":    result.RunID,
		"error":     result.Error,
		"count":     result.DocumentCount,
		"uploaded":  result.DocumentCount > 0,
		"completed": result.CompletedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("finish job: %w", err)
	}
	if rows := first(results); len(rows) > 0 {
		job, err := rows[0].model()
		if err != nil {
			return nil, err
		}
		return &job, nil
	}

	current, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %s already %s", store.ErrConflict, jobID, current.Status)
}

// ListJobs implements store.Store.
func (c *Client) ListJobs(ctx context.Context, filter store.JobFilter) ([]models.Job, error) {
	var where []string
	vars := map[string]any{}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = $tenant")
		vars["tenant"] = filter.TenantID
	}
	if filter.EngagementID != "" {
		where = append(where, "engagement_id = $engagement")
		vars["engagement"] = filter.EngagementID
	}
	if filter.Status != "" {
		where = append(where, "status = $status")
		vars["status"] = string(filter.Status)
	}

	sql := "SELECT * FROM ingest_job"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = filter.Limit
	}

	results, err := query[[]jobRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	rows := first(results)
	jobs := make([]models.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.model()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// InsertDocument implements store.Store. The document_fingerprint index turns
// a second copy of the same content for one doc-run id into ErrAlreadyExists.
func (c *Client) InsertDocument(ctx context.Context, doc *models.Document) error {
	steps := doc.Steps
	if steps == nil {
		steps = []models.Step{}
	}
	_, err := query[any](ctx, c, `
		CREATE type::record("document", $id) SET
			doc_run_id = $doc_run_id,
			run_id = $run_id,
			tenant_id = $tenant,
			engagement_id = $engagement,
			year = $year,
			quarter = $quarter,
			sub_category = $sub_category,
			owner = $owner,
			job_id = $job_id,
			original_filename = $filename,
			source_path = $source_path,
			content = $content,
			fingerprint = $fingerprint,
			steps = $steps,
			created_at = $created
	`, map[string]any{
		"id":           doc.ID,
		"doc_run_id":   doc.DocRunID,
		"run_id":       doc.RunID,
		"tenant":       doc.TenantID,
		"engagement":   doc.EngagementID,
		"year":         doc.Year,
		"quarter":      doc.Quarter,
		"sub_category": doc.SubCategory,
		"owner":        doc.Owner,
		"job_id":       doc.JobID,
		"filename":     doc.OriginalFilename,
		"source_path":  doc.SourcePath,
		"content":      doc.Content,
		"fingerprint":  doc.Fingerprint,
		"steps":        steps,
		"created":      doc.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// ListFingerprints implements store.Store.
func (c *Client) ListFingerprints(ctx context.Context, docRunID string) ([]string, error) {
	results, err := query[[]string](ctx, c, `
		SELECT VALUE fingerprint FROM document WHERE doc_run_id = $doc_run_id
	`, map[string]any{"doc_run_id": docRunID})
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	return first(results), nil
}

// ListDocumentsByJob implements store.Store.
func (c *Client) ListDocumentsByJob(ctx context.Context, jobID string) ([]models.Document, error) {
	results, err := query[[]documentRow](ctx, c, `
		SELECT id, doc_run_id, run_id, tenant_id, engagement_id, year, quarter, sub_category,
			owner, job_id, original_filename, source_path, fingerprint, steps, created_at
		FROM document WHERE job_id = $job_id ORDER BY created_at
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	rows := first(results)
	docs := make([]models.Document, 0, len(rows))
	for _, r := range rows {
		id, err := models.RecordIDString(r.ID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.Document{
			ID:               id,
			DocRunID:         r.DocRunID,
			RunID:            r.RunID,
			TenantID:         r.TenantID,
			EngagementID:     r.EngagementID,
			Year:             r.Year,
			Quarter:          r.Quarter,
			SubCategory:      r.SubCategory,
			Owner:            r.Owner,
			JobID:            r.JobID,
			OriginalFilename: r.OriginalFilename,
			SourcePath:       r.SourcePath,
			Fingerprint:      r.Fingerprint,
			Steps:            r.Steps,
			CreatedAt:        r.CreatedAt,
		})
	}
	return docs, nil
}

// AppendDocumentStep implements store.Store.
func (c *Client) AppendDocumentStep(ctx context.Context, docID string, step models.Step) error {
	results, err := query[[]documentRow](ctx, c, `
		UPDATE type::record("document", $id) SET steps = array::append(steps, $step) RETURN AFTER
	`, map[string]any{"id": docID, "step": step})
	if err != nil {
		return fmt.Errorf("append document step: %w", err)
	}
	if len(first(results)) == 0 {
		return store.ErrNotFound
	}
	return nil
}
