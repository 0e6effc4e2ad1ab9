// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/store"
)

// Run exercises a backend. Records use random identifiers so a shared
// database can serve every subtest.
func Run(t *testing.T, s store.Store) {
	t.Run("Runs", func(t *testing.T) { testRuns(t, s) })
	t.Run("Sequence", func(t *testing.T) { testSequence(t, s) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, s) })
	t.Run("FinishJobOnce", func(t *testing.T) { testFinishJobOnce(t, s) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, s) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func unique(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenant, engagement := unique("tenant"), unique("eng")

	_, err := s.GetRun(ctx, tenant, engagement)
	require.ErrorIs(t, err, store.ErrNotFound)

	run := &models.Run{
		RunID:        unique("RUN"),
		TenantID:     tenant,
		EngagementID: engagement,
		CreatedAt:    now(),
		UpdatedAt:    now(),
	}
	require.NoError(t, s.InsertRun(ctx, run))

	dup := *run
	dup.RunID = unique("RUN")
	require.ErrorIs(t, s.InsertRun(ctx, &dup), store.ErrAlreadyExists)

	got, err := s.GetRun(ctx, tenant, engagement)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, int64(0), got.Version)
	assert.Empty(t, got.Tree.AllEntries())

	var tree models.MetadataTree
	tree.Merge(models.MetadataEntry{Year: 2024, Quarter: "Q1", SubCategory: "Retail", Owner: "Acme", DocRunID: "d1"})

	updated, err := s.UpdateRunTree(ctx, run.RunID, 0, tree)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.True(t, tree.Equal(updated.Tree))

	_, err = s.UpdateRunTree(ctx, run.RunID, 0, tree)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateRunTree(ctx, unique("RUN"), 0, tree)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err = s.GetRun(ctx, tenant, engagement)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, tree.Equal(got.Tree))
}

func testSequence(t *testing.T, s store.Store) {
	ctx := context.Background()
	name := unique("seq")

	const n = 20
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.NextSequence(ctx, name)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing value %d", i)
	}

	other, err := s.NextSequence(ctx, unique("seq"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func newJob(tenant string, created time.Time) *models.Job {
	return &models.Job{
		ID:           uuid.NewString(),
		TenantID:     tenant,
		EngagementID: "eng",
		SiteURL:      "file:///data",
		FolderPath:   "Reports/Q1_2024",
		Mode:         models.ModeFull,
		Status:       models.JobPending,
		CreatedAt:    created,
	}
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	tenant := unique("tenant")

	_, err := s.GetJob(ctx, uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)

	base := now()
	var ids []string
	for i := range 3 {
		job := newJob(tenant, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.InsertJob(ctx, job))
		ids = append(ids, job.ID)
	}

	got, err := s.GetJob(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, "Reports/Q1_2024", got.FolderPath)
	assert.Equal(t, models.ModeFull, got.Mode)
	assert.Nil(t, got.CompletedAt)

	done, err := s.FinishJob(ctx, ids[0], models.JobResult{
		Status:        models.JobComplete,
		RunID:         "RUN-000001",
		DocumentCount: 2,
		CompletedAt:   base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, done.Status)
	assert.True(t, done.DocumentsUploaded)
	assert.Equal(t, 2, done.DocumentCount)
	require.NotNil(t, done.CompletedAt)

	all, err := s.ListJobs(ctx, store.JobFilter{TenantID: tenant})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)

	pending, err := s.ListJobs(ctx, store.JobFilter{TenantID: tenant, Status: models.JobPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := s.ListJobs(ctx, store.JobFilter{TenantID: tenant, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ids[2], limited[0].ID)
}

func testFinishJobOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(unique("tenant"), now())
	require.NoError(t, s.InsertJob(ctx, job))

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.FinishJob(ctx, job.ID, models.JobResult{
				Status:      models.JobFailed,
				Error:       fmt.Sprintf("writer %d", i),
				CompletedAt: now(),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.False(t, got.DocumentsUploaded)

	_, err = s.FinishJob(ctx, uuid.NewString(), models.JobResult{Status: models.JobFailed, CompletedAt: now()})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func newDocument(jobID, docRunID, fingerprint, name string, created time.Time) *models.Document {
	return &models.Document{
		ID:               uuid.NewString(),
		DocRunID:         docRunID,
		RunID:            "RUN-000001",
		TenantID:         "tenant",
		EngagementID:     "eng",
		Year:             2024,
		Quarter:          "Q1",
		SubCategory:      "Retail",
		Owner:            "Acme",
		JobID:            jobID,
		OriginalFilename: name,
		SourcePath:       "Reports/Q1_2024/Retail/Acme/" + name,
		Content:          "aGVsbG8=",
		Fingerprint:      fingerprint,
		Steps:            []models.Step{{Name: models.StepIngested, Result: models.StepResultSuccess, At: created}},
		CreatedAt:        created,
	}
}

func testDocuments(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobID := uuid.NewString()
	docRunID := uuid.NewString()
	base := now()

	a := newDocument(jobID, docRunID, "fp-a", "a.pdf", base)
	b := newDocument(jobID, docRunID, "fp-b", "b.pdf", base.Add(time.Second))
	require.NoError(t, s.InsertDocument(ctx, a))
	require.NoError(t, s.InsertDocument(ctx, b))

	dup := newDocument(uuid.NewString(), docRunID, "fp-a", "copy-of-a.pdf", base)
	require.ErrorIs(t, s.InsertDocument(ctx, dup), store.ErrAlreadyExists)

	other := newDocument(uuid.NewString(), uuid.NewString(), "fp-a", "a.pdf", base)
	require.NoError(t, s.InsertDocument(ctx, other), "same content under another owner scope is a new document")

	fps, err := s.ListFingerprints(ctx, docRunID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fp-a", "fp-b"}, fps)

	none, err := s.ListFingerprints(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)

	docs, err := s.ListDocumentsByJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{docs[0].ID, docs[1].ID})
	for _, d := range docs {
		assert.Empty(t, d.Content)
		assert.Equal(t, "Acme", d.Owner)
		require.Len(t, d.Steps, 1)
		assert.Equal(t, models.StepIngested, d.Steps[0].Name)
	}

	require.NoError(t, s.AppendDocumentStep(ctx, a.ID, models.Step{Name: "classified", Result: "success", At: base.Add(time.Hour)}))
	docs, err = s.ListDocumentsByJob(ctx, jobID)
	require.NoError(t, err)
	for _, d := range docs {
		if d.ID == a.ID {
			require.Len(t, d.Steps, 2)
			assert.Equal(t, "classified", d.Steps[1].Name)
		}
	}

	require.ErrorIs(t, s.AppendDocumentStep(ctx, uuid.NewString(), models.Step{Name: "x"}), store.ErrNotFound)
}
