// Package store defines the persistence contract shared by every backend.
package store

import (
	"context"
	"errors"

	"github.com/yashugupta786/sp/internal/models"
)

// Sentinel errors returned by every backend. Use errors.Is() to check them.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates a unique constraint rejected an insert.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict indicates a compare-and-swap update lost against a concurrent writer.
	ErrConflict = errors.New("write conflict")
)

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	TenantID     string
	EngagementID string
	Status       models.JobStatus
	Limit        int
}

// Store is the persistence contract for runs, jobs and documents.
type Store interface {
	// GetRun returns the run for a tenant/engagement pair or ErrNotFound.
	GetRun(ctx context.Context, tenantID, engagementID string) (*models.Run, error)
	// InsertRun creates a run. A second run for the same pair fails with ErrAlreadyExists.
	InsertRun(ctx context.Context, run *models.Run) error
	// UpdateRunTree replaces the tree when the stored version equals expectedVersion
	// and returns the stored run with its bumped version. A mismatch yields ErrConflict.
	UpdateRunTree(ctx context.Context, runID string, expectedVersion int64, tree models.MetadataTree) (*models.Run, error)
	// NextSequence atomically increments and returns a named counter, starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)

	InsertJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// FinishJob applies a terminal result only while the job is pending.
	// A job that is already terminal yields ErrConflict.
	FinishJob(ctx context.Context, jobID string, result models.JobResult) (*models.Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]models.Job, error)

	// InsertDocument writes a new document. A second document with the same
	// (DocRunID, Fingerprint) fails with ErrAlreadyExists.
	InsertDocument(ctx context.Context, doc *models.Document) error
	ListFingerprints(ctx context.Context, docRunID string) ([]string, error)
	// ListDocumentsByJob returns documents without content.
	ListDocumentsByJob(ctx context.Context, jobID string) ([]models.Document, error)
	// AppendDocumentStep records a later pipeline step on a stored document.
	// Ingestion itself never calls it; downstream consumers do.
	AppendDocumentStep(ctx context.Context, docID string, step models.Step) error

	Close(ctx context.Context) error
}
