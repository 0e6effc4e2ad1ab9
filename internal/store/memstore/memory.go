// Package memstore is an in-memory implementation of store.Store for tests and
// single-process deployments.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
)

// Store keeps every record in maps guarded by one lock.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]models.Run // run id -> run
	runByPair map[string]string     // tenant|engagement -> run id
	sequences map[string]int64
	jobs      map[string]models.Job
	docs      map[string]models.Document
	docKeys   map[string]string // docRunID|fingerprint -> doc id
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		runs:      make(map[string]models.Run),
		runByPair: make(map[string]string),
		sequences: make(map[string]int64),
		jobs:      make(map[string]models.Job),
		docs:      make(map[string]models.Document),
		docKeys:   make(map[string]string),
	}
}

// Close implements store.Store.
func (s *Store) Close(ctx context.Context) error { return nil }

func pairKey(a, b string) string { return a + "|" + b }

// GetRun implements store.Store.
func (s *Store) GetRun(ctx context.Context, tenantID, engagementID string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.runByPair[pairKey(tenantID, engagementID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	run := copyRun(s.runs[id])
	return &run, nil
}

// InsertRun implements store.Store.
func (s *Store) InsertRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(run.TenantID, run.EngagementID)
	if _, ok := s.runByPair[key]; ok {
		return fmt.Errorf("%w: run for %s", store.ErrAlreadyExists, key)
	}
	if _, ok := s.runs[run.RunID]; ok {
		return fmt.Errorf("%w: run %s", store.ErrAlreadyExists, run.RunID)
	}
	s.runs[run.RunID] = copyRun(*run)
	s.runByPair[key] = run.RunID
	return nil
}

// UpdateRunTree implements store.Store.
func (s *Store) UpdateRunTree(ctx context.Context, runID string, expectedVersion int64, tree models.MetadataTree) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if run.Version != expectedVersion {
		return nil, fmt.Errorf("%w: run %s at version %d, expected %d", store.ErrConflict, runID, run.Version, expectedVersion)
	}
	run.Tree = tree.Clone()
	run.Version++
	run.UpdatedAt = time.Now().UTC()
	s.runs[runID] = run

	out := copyRun(run)
	return &out, nil
}

// NextSequence implements store.Store.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[name]++
	return s.sequences[name], nil
}

// InsertJob implements store.Store.
func (s *Store) InsertJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", store.ErrAlreadyExists, job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

// GetJob implements store.Store.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &job, nil
}

// FinishJob implements store.Store.
func (s *Store) FinishJob(ctx context.Context, jobID string, result models.JobResult) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if job.Status != models.JobPending {
		return nil, fmt.Errorf("%w: job %s already %s", store.ErrConflict, jobID, job.Status)
	}
	completedAt := result.CompletedAt
	job.Status = result.Status
	job.RunID = result.RunID
	job.Error = result.Error
	job.DocumentCount = result.DocumentCount
	job.DocumentsUploaded = result.DocumentCount > 0
	job.CompletedAt = &completedAt
	s.jobs[jobID] = job
	return &job, nil
}

// ListJobs implements store.Store.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Job
	for _, job := range s.jobs {
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		if filter.EngagementID != "" && job.EngagementID != filter.EngagementID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	slices.SortFunc(out, func(a, b models.Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// InsertDocument implements store.Store.
func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(doc.DocRunID, doc.Fingerprint)
	if _, ok := s.docKeys[key]; ok {
		return fmt.Errorf("%w: fingerprint %s for %s", store.ErrAlreadyExists, doc.Fingerprint, doc.DocRunID)
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s", store.ErrAlreadyExists, doc.ID)
	}
	cp := *doc
	cp.Steps = slices.Clone(doc.Steps)
	s.docs[doc.ID] = cp
	s.docKeys[key] = doc.ID
	return nil
}

// ListFingerprints implements store.Store.
func (s *Store) ListFingerprints(ctx context.Context, docRunID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, doc := range s.docs {
		if doc.DocRunID == docRunID {
			out = append(out, doc.Fingerprint)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ListDocumentsByJob implements store.Store.
func (s *Store) ListDocumentsByJob(ctx context.Context, jobID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Document
	for _, doc := range s.docs {
		if doc.JobID != jobID {
			continue
		}
		doc.Content = ""
		doc.Steps = slices.Clone(doc.Steps)
		out = append(out, doc)
	}
	slices.SortFunc(out, func(a, b models.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// AppendDocumentStep implements store.Store.
func (s *Store) AppendDocumentStep(ctx context.Context, docID string, step models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return store.ErrNotFound
	}
	doc.Steps = append(slices.Clone(doc.Steps), step)
	s.docs[docID] = doc
	return nil
}

// Document returns a stored document including its content.
func (s *Store) Document(docID string) (models.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docID]
	return doc, ok
}

func copyRun(r models.Run) models.Run {
	r.Tree = r.Tree.Clone()
	return r
}
