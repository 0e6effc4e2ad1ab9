package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
)

type runRow struct {
	RunID        string `db:"run_id"`
	TenantID     string `db:"tenant_id"`
	EngagementID string `db:"engagement_id"`
	Tree         string `db:"tree"`
	Version      int64  `db:"version"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (r runRow) model() (*models.Run, error) {
	run := &models.Run{
		RunID:        r.RunID,
		TenantID:     r.TenantID,
		EngagementID: r.EngagementID,
		Version:      r.Version,
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Tree), &run.Tree); err != nil {
		return nil, fmt.Errorf("decode tree of run %s: %w", r.RunID, err)
	}
	return run, nil
}

type jobRow struct {
	ID                string        `db:"id"`
	TenantID          string        `db:"tenant_id"`
	EngagementID      string        `db:"engagement_id"`
	SiteURL           string        `db:"site_url"`
	FolderPath        string        `db:"folder_path"`
	Mode              string        `db:"mode"`
	Year              int           `db:"year"`
	Quarter           string        `db:"quarter"`
	Status            string        `db:"status"`
	RunID             string        `db:"run_id"`
	Error             string        `db:"error"`
	DocumentCount     int           `db:"document_count"`
	DocumentsUploaded bool          `db:"documents_uploaded"`
	CreatedAt         int64         `db:"created_at"`
	CompletedAt       sql.NullInt64 `db:"completed_at"`
}

func (r jobRow) model() models.Job {
	job := models.Job{
		ID:                r.ID,
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
		CreatedAt:         fromMillis(r.CreatedAt),
	}
	if r.CompletedAt.Valid {
		t := fromMillis(r.CompletedAt.Int64)
		job.CompletedAt = &t
	}
	return job
}

type documentRow struct {
	ID               string `db:"id"`
	DocRunID         string `db:"doc_run_id"`
	RunID            string `db:"run_id"`
	TenantID         string `db:"tenant_id"`
	EngagementID     string `db:"engagement_id"`
	Year             int    `db:"year"`
	Quarter          string `db:"quarter"`
	SubCategory      string `db:"sub_category"`
	Owner            string `db:"owner"`
	JobID            string `db:"job_id"`
	OriginalFilename string `db:"original_filename"`
	SourcePath       string `db:"source_path"`
	Fingerprint      string `db:"fingerprint"`
	Steps            string `db:"steps"`
	CreatedAt        int64  `db:"created_at"`
}

const runColumns = `run_id, tenant_id, engagement_id, tree, version, created_at, updated_at`

const jobColumns = `id, tenant_id, engagement_id, site_url, folder_path, mode, year, quarter,
	status, run_id, error, document_count, documents_uploaded, created_at, completed_at`

// GetRun implements store.Store.
func (s *Store) GetRun(ctx context.Context, tenantID, engagementID string) (*models.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+runColumns+` FROM runs WHERE tenant_id = ? AND engagement_id = ?`,
		tenantID, engagementID)
	if err != nil {
		return nil, wrapError(err)
	}
	return row.model()
}

// InsertRun implements store.Store.
func (s *Store) InsertRun(ctx context.Context, run *models.Run) error {
	tree, err := json.Marshal(run.Tree)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TenantID, run.EngagementID, string(tree), run.Version,
		millis(run.CreatedAt), millis(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", wrapError(err))
	}
	return nil
}

// UpdateRunTree implements store.Store.
func (s *Store) UpdateRunTree(ctx context.Context, runID string, expectedVersion int64, tree models.MetadataTree) (*models.Run, error) {
	encoded, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET tree = ?, version = version + 1, updated_at = ?
		 WHERE run_id = ? AND version = ?`,
		string(encoded), millis(time.Now()), runID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update run tree: %w", wrapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var version int64
		if err := s.db.GetContext(ctx, &version, `SELECT version FROM runs WHERE run_id = ?`, runID); err != nil {
			return nil, wrapError(err)
		}
		return nil, fmt.Errorf("%w: run %s at version %d, expected %d", store.ErrConflict, runID, version, expectedVersion)
	}

	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID); err != nil {
		return nil, wrapError(err)
	}
	return row.model()
}

// NextSequence implements store.Store.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.GetContext(ctx, &value,
		`INSERT INTO sequences (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`, name)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, wrapError(err))
	}
	return value, nil
}

// InsertJob implements store.Store.
func (s *Store) InsertJob(ctx context.Context, job *models.Job) error {
	var completed sql.NullInt64
	if job.CompletedAt != nil {
		completed = sql.NullInt64{Int64: millis(*job.CompletedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.EngagementID, job.SiteURL, job.FolderPath, string(job.Mode),
		job.Year, job.Quarter, string(job.Status), job.RunID, job.Error, job.DocumentCount,
		job.DocumentsUploaded, millis(job.CreatedAt), completed)
	if err != nil {
		return fmt.Errorf("insert job: %w", wrapError(err))
	}
	return nil
}

// GetJob implements store.Store.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM ingest_jobs WHERE id = ?`, jobID); err != nil {
		return nil, wrapError(err)
	}
	job := row.model()
	return &job, nil
}

// FinishJob implements store.Store.
func (s *Store) FinishJob(ctx context.Context, jobID string, result models.JobResult) (*models.Job, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_jobs
		 SET status = ?, run_id = ?, error = ?, document_count = ?, documents_uploaded = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(result.Status), result.RunID, result.Error, result.DocumentCount,
		result.DocumentCount > 0, millis(result.CompletedAt), jobID, string(models.JobPending))
	if err != nil {
		return nil, fmt.Errorf("finish job: %w", wrapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s already %s", store.ErrConflict, jobID, current.Status)
	}
	return s.GetJob(ctx, jobID)
}

// ListJobs implements store.Store.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]models.Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.EngagementID != "" {
		where = append(where, "engagement_id = ?")
		args = append(args, filter.EngagementID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + jobColumns + ` FROM ingest_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapError(err))
	}
	jobs := make([]models.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.model())
	}
	return jobs, nil
}

// InsertDocument implements store.Store.
func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	steps, err := json.Marshal(doc.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, doc_run_id, run_id, tenant_id, engagement_id, year, quarter,
			sub_category, owner, job_id, original_filename, source_path, content, fingerprint, steps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.DocRunID, doc.RunID, doc.TenantID, doc.EngagementID, doc.Year, doc.Quarter,
		doc.SubCategory, doc.Owner, doc.JobID, doc.OriginalFilename, doc.SourcePath, doc.Content,
		doc.Fingerprint, string(steps), millis(doc.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", wrapError(err))
	}
	return nil
}

// ListFingerprints implements store.Store.
func (s *Store) ListFingerprints(ctx context.Context, docRunID string) ([]string, error) {
	var fps []string
	if err := s.db.SelectContext(ctx, &fps,
		`SELECT fingerprint FROM documents WHERE doc_run_id = ? ORDER BY fingerprint`, docRunID); err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", wrapError(err))
	}
	return fps, nil
}

// ListDocumentsByJob implements store.Store.
func (s *Store) ListDocumentsByJob(ctx context.Context, jobID string) ([]models.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, doc_run_id, run_id, tenant_id, engagement_id, year, quarter, sub_category, owner,
			job_id, original_filename, source_path, fingerprint, steps, created_at
		 FROM documents WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", wrapError(err))
	}

	docs := make([]models.Document, 0, len(rows))
	for _, r := range rows {
		doc := models.Document{
			ID:               r.ID,
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
			CreatedAt:        fromMillis(r.CreatedAt),
		}
		if err := json.Unmarshal([]byte(r.Steps), &doc.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of document %s: %w", r.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// AppendDocumentStep implements store.Store. The read and write share one
// transaction so concurrent appends cannot drop each other.
func (s *Store) AppendDocumentStep(ctx context.Context, docID string, step models.Step) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append step: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.GetContext(ctx, &raw, `SELECT steps FROM documents WHERE id = ?`, docID); err != nil {
		return wrapError(err)
	}
	var steps []models.Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return fmt.Errorf("decode steps of document %s: %w", docID, err)
	}
	encoded, err := json.Marshal(append(steps, step))
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET steps = ? WHERE id = ?`, string(encoded), docID); err != nil {
		return fmt.Errorf("append step: %w", wrapError(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append step: %w", err)
	}
	return nil
}
