package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashugupta786/sp/internal/metrics"
	"github.com/yashugupta786/sp/internal/models"
	"github.com/yashugupta786/sp/internal/source"
	"github.com/yashugupta786/sp/internal/source/localfs"
	"github.com/yashugupta786/sp/internal/store"
	"github.com/yashugupta786/sp/internal/store/memstore"
)

// testEnv wires the service layer over an in-memory store and a temp-dir tree.
type testEnv struct {
	root     string
	store    *memstore.Store
	metrics  *metrics.Collector
	resolver *source.Resolver
	registry *RunRegistry
	orch     *Orchestrator
	jobs     *JobManager
	poller   *StatusPoller
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		root:     t.TempDir(),
		store:    memstore.New(),
		metrics:  metrics.NewCollector(),
		resolver: source.NewResolver(),
	}
	env.resolver.Register(source.KindFile, localfs.Factory(""))
	env.registry = NewRunRegistry(env.store, "", nil, env.metrics)
	env.orch = NewOrchestrator(env.store, env.resolver, env.registry, OrchestratorConfig{
		OwnerConcurrency: 2,
		Retry:            source.RetryPolicy{MaxAttempts: 1},
	}, nil, env.metrics)
	env.jobs = NewJobManager(env.store, env.orch, JobManagerConfig{Workers: 2, QueueSize: 10, JobTimeout: 10 * time.Second}, nil, env.metrics)
	env.poller = NewStatusPoller(env.store)

	env.jobs.Start(context.Background())
	t.Cleanup(env.jobs.Stop)
	return env
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func (e *testEnv) siteURL() string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(e.root)}).String()
}

func (e *testEnv) request(folder string) TriggerRequest {
	return TriggerRequest{SiteURL: e.siteURL(), FolderPath: folder, TenantID: "t1", EngagementID: "e1"}
}

// ingest triggers a job and waits for its terminal status.
func (e *testEnv) ingest(t *testing.T, req TriggerRequest) *StatusResult {
	t.Helper()
	job, err := e.jobs.Trigger(context.Background(), req)
	require.NoError(t, err)
	return e.await(t, job.ID)
}

func (e *testEnv) await(t *testing.T, jobID string) *StatusResult {
	t.Helper()
	var res *StatusResult
	require.Eventually(t, func() bool {
		var err error
		res, err = e.poller.Poll(context.Background(), jobID)
		require.NoError(t, err)
		return res.Kind != StatusPending
	}, 5*time.Second, 10*time.Millisecond)
	return res
}

func TestEndToEndIngestAndRepeat(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q1_2024/Retail/Acme/a.pdf", "alpha")
	env.write(t, "Q1_2024/Retail/Acme/b.pdf", "beta")

	res := env.ingest(t, env.request("Q1_2024"))
	require.Equal(t, StatusResults, res.Kind, "error: %s", res.Job.Error)
	assert.Equal(t, 2, res.TotalFiles)
	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Equal(t, "Retail", g.SubCategory)
	assert.Equal(t, "Acme", g.Owner)
	assert.Equal(t, DocRunID("t1", "e1", 2024, "Q1", "Retail", "Acme"), g.DocRunID)
	require.Len(t, g.Files, 2)
	assert.Equal(t, "a.pdf", g.Files[0].OriginalFilename)
	assert.Equal(t, "b.pdf", g.Files[1].OriginalFilename)
	assert.Equal(t, "RUN-000001", res.Job.RunID)
	assert.True(t, res.Job.DocumentsUploaded)

	doc, ok := env.store.Document(g.Files[0].DocID)
	require.True(t, ok)
	assert.Equal(t, "YWxwaGE=", doc.Content)
	assert.Equal(t, Fingerprint([]byte("alpha")), doc.Fingerprint)
	require.Len(t, doc.Steps, 1)
	assert.Equal(t, models.StepIngested, doc.Steps[0].Name)

	again := env.ingest(t, env.request("Q1_2024"))
	assert.Equal(t, StatusEmpty, again.Kind)
	assert.Zero(t, again.Job.DocumentCount)
	assert.False(t, again.Job.DocumentsUploaded)

	fps, err := env.store.ListFingerprints(context.Background(), g.DocRunID)
	require.NoError(t, err)
	assert.Len(t, fps, 2, "no duplicate documents per doc-run id")
}

func TestChangedContentStoresOneDocument(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q1_2024/Retail/Acme/a.pdf", "alpha")
	env.write(t, "Q1_2024/Retail/Acme/b.pdf", "beta")
	require.Equal(t, StatusResults, env.ingest(t, env.request("Q1_2024")).Kind)

	env.write(t, "Q1_2024/Retail/Acme/b.pdf", "beta v2")
	res := env.ingest(t, env.request("Q1_2024"))
	require.Equal(t, StatusResults, res.Kind)
	assert.Equal(t, 1, res.TotalFiles)
	assert.Equal(t, "b.pdf", res.Groups[0].Files[0].OriginalFilename)

	fps, err := env.store.ListFingerprints(context.Background(), res.Groups[0].DocRunID)
	require.NoError(t, err)
	assert.Len(t, fps, 3)
}

func TestDuplicateContentWithinOneJob(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q1_2024/Retail/Acme/a.pdf", "same")
	env.write(t, "Q1_2024/Retail/Acme/copy/a-copy.pdf", "same")
	env.write(t, "Q1_2024/Retail/Globex/a.pdf", "same")

	res := env.ingest(t, env.request("Q1_2024"))
	require.Equal(t, StatusResults, res.Kind)
	// Same content under another owner is a different scope.
	assert.Equal(t, 2, res.TotalFiles)
	assert.Len(t, res.Groups, 2)
	assert.Equal(t, int64(1), env.metrics.Counter(metrics.CounterDedupSkipped))
}

func TestFingerprintCollisionCountsAsSameContent(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.InsertDocument(ctx, &models.Document{ID: "d1", DocRunID: "scope", Fingerprint: "fp"}))

	idx := NewDedupIndex(s)
	ok, err := idx.Admit(ctx, "scope", "fp")
	require.NoError(t, err)
	assert.False(t, ok, "a stored fingerprint is never admitted, whatever the bytes")

	ok, err = idx.Admit(ctx, "scope", "other")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = idx.Admit(ctx, "scope", "other")
	require.NoError(t, err)
	assert.False(t, ok)

	idx.Forget("scope", "other")
	ok, err = idx.Admit(ctx, "scope", "other")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFingerprintIsStableHex(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Fingerprint([]byte("hello")))
	assert.NotEqual(t, Fingerprint([]byte("a")), Fingerprint([]byte("b")))
}

func TestMissingSourceFails(t *testing.T) {
	env := newEnv(t)
	res := env.ingest(t, env.request("Q3_2023"))
	require.Equal(t, StatusFailed, res.Kind)
	assert.NotEmpty(t, res.Job.Error)
	assert.Contains(t, res.Job.Error, "path not found")
}

func TestInvalidSourceFolderFails(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Reports/Retail/Acme/a.pdf", "alpha")

	res := env.ingest(t, env.request("Reports"))
	require.Equal(t, StatusFailed, res.Kind)
	assert.Equal(t, "invalid source folder: Reports", res.Job.Error)
}

func TestNoFilesCompletesEmpty(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "Q2_2024", "Retail", "Acme"), 0o755))

	res := env.ingest(t, env.request("Q2_2024"))
	assert.Equal(t, StatusEmpty, res.Kind)
	assert.Equal(t, models.JobComplete, res.Job.Status)
	require.NotNil(t, res.Job.CompletedAt)
}

// flakyOwners fails every call below one owner path.
type flakyOwners struct {
	source.Provider
	broken string
}

func (f *flakyOwners) ListFiles(ctx context.Context, path string) ([]source.File, error) {
	if strings.HasSuffix(path, f.broken) {
		return nil, errors.New("provider exploded")
	}
	return f.Provider.ListFiles(ctx, path)
}

func TestUnreachableOwnerIsSkipped(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q1_2024/Retail/Acme/a.pdf", "alpha")
	env.write(t, "Q1_2024/Retail/Globex/g.pdf", "gamma")
	env.resolver.Register(source.KindFile, func(ctx context.Context, u *url.URL) (source.Provider, error) {
		p, err := localfs.New(u.Path)
		if err != nil {
			return nil, err
		}
		return &flakyOwners{Provider: p, broken: "Globex"}, nil
	})

	res := env.ingest(t, env.request("Q1_2024"))
	require.Equal(t, StatusResults, res.Kind)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Acme", res.Groups[0].Owner)
	assert.Equal(t, int64(1), env.metrics.Counter(metrics.CounterOwnersSkipped))
}

// deniedProvider rejects credentials on file listing or content fetches.
type deniedProvider struct {
	source.Provider
	onFetch bool
}

func (d *deniedProvider) ListFiles(ctx context.Context, path string) ([]source.File, error) {
	if !d.onFetch {
		return nil, fmt.Errorf("%w: token rejected", source.ErrUnauthorized)
	}
	return d.Provider.ListFiles(ctx, path)
}

func (d *deniedProvider) FetchContent(ctx context.Context, f source.File) ([]byte, error) {
	if d.onFetch {
		return nil, fmt.Errorf("%w: token rejected", source.ErrUnauthorized)
	}
	return d.Provider.FetchContent(ctx, f)
}

func TestRejectedCredentialsFailTheJob(t *testing.T) {
	for _, onFetch := range []bool{false, true} {
		t.Run(fmt.Sprintf("onFetch=%v", onFetch), func(t *testing.T) {
			env := newEnv(t)
			env.write(t, "Q1_2024/Retail/Acme/a.pdf", "alpha")
			require.Equal(t, StatusResults, env.ingest(t, env.request("Q1_2024")).Kind)

			env.write(t, "Q1_2024/Retail/Acme/b.pdf", "beta")
			env.resolver.Register(source.KindFile, func(ctx context.Context, u *url.URL) (source.Provider, error) {
				p, err := localfs.New(u.Path)
				if err != nil {
					return nil, err
				}
				return &deniedProvider{Provider: p, onFetch: onFetch}, nil
			})

			res := env.ingest(t, env.request("Q1_2024"))
			require.Equal(t, StatusFailed, res.Kind)
			assert.Contains(t, res.Job.Error, "token rejected")
			assert.Zero(t, env.metrics.Counter(metrics.CounterOwnersSkipped))
		})
	}
}

func TestMissingFolderWithRecordedTaxonomyFails(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q1_2024/Retail/Acme/a.pdf", "alpha")
	require.Equal(t, StatusResults, env.ingest(t, env.request("Q1_2024")).Kind)

	// Same period, so the recorded owners apply, but nothing exists there.
	res := env.ingest(t, env.request("no/such/dir/Q1_2024"))
	require.Equal(t, StatusFailed, res.Kind)
	assert.Contains(t, res.Job.Error, "path not found")

	require.NoError(t, os.RemoveAll(filepath.Join(env.root, "Q1_2024")))
	res = env.ingest(t, env.request("Q1_2024"))
	require.Equal(t, StatusFailed, res.Kind)
	assert.Contains(t, res.Job.Error, "path not found")

	quarter := env.request("/")
	quarter.Mode = models.ModeQuarter
	quarter.Year = 2024
	quarter.Quarter = "Q1"
	res = env.ingest(t, quarter)
	require.Equal(t, StatusFailed, res.Kind)
	assert.Contains(t, res.Job.Error, "path not found")
}

func TestRecordedTaxonomyIsReused(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q1_2024/Retail/Acme/a.pdf", "alpha")
	require.Equal(t, StatusResults, env.ingest(t, env.request("Q1_2024")).Kind)

	// Owners added later are not discovered for a period with recorded taxonomy.
	env.write(t, "Q1_2024/Retail/Newco/n.pdf", "new")
	env.write(t, "Q1_2024/Retail/Acme/b.pdf", "beta")
	res := env.ingest(t, env.request("Q1_2024"))
	require.Equal(t, StatusResults, res.Kind)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Acme", res.Groups[0].Owner)

	// An explicit discovery picks them up without transferring files.
	req := env.request("Q1_2024")
	req.Mode = models.ModeDiscover
	disc := env.ingest(t, req)
	assert.Equal(t, StatusEmpty, disc.Kind)

	run, err := env.registry.Lookup(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.Len(t, run.Tree.Entries(2024, "Q1"), 2)
}

func TestQuarterModeUsesRecordedTaxonomy(t *testing.T) {
	env := newEnv(t)
	env.write(t, "Q4_2023/Energy/Initech/x.pdf", "x")

	req := env.request("/")
	req.Mode = models.ModeQuarter
	req.Year = 2023
	req.Quarter = "q4"
	res := env.ingest(t, req)
	require.Equal(t, StatusFailed, res.Kind)
	assert.Equal(t, "no taxonomy recorded for Q4_2023", res.Job.Error)

	disc := env.request("Q4_2023")
	disc.Mode = models.ModeDiscover
	require.Equal(t, StatusEmpty, env.ingest(t, disc).Kind)

	res = env.ingest(t, req)
	require.Equal(t, StatusResults, res.Kind, res.Job.Error)
	assert.Equal(t, 1, res.TotalFiles)
	assert.Equal(t, "Initech", res.Groups[0].Owner)
}

func TestConcurrentRunAllocationIsUnique(t *testing.T) {
	s := memstore.New()
	reg := NewRunRegistry(s, "", nil, nil)

	const n = 25
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := reg.GetOrCreateRun(context.Background(), fmt.Sprintf("tenant-%d", i), "eng")
			assert.NoError(t, err)
			ids[i] = run.RunID
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.Regexp(t, `^RUN-\d{6}$`, id)
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
}

func TestConcurrentFirstTriggerSamePairSharesRun(t *testing.T) {
	s := memstore.New()
	reg := NewRunRegistry(s, "ENG", nil, nil)

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := reg.GetOrCreateRun(context.Background(), "t", "e")
			assert.NoError(t, err)
			ids[i] = run.RunID
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.True(t, strings.HasPrefix(ids[0], "ENG-"))
}

func TestMergeEntriesIsIdempotentAndSurvivesStaleRuns(t *testing.T) {
	s := memstore.New()
	reg := NewRunRegistry(s, "", nil, metrics.NewCollector())
	ctx := context.Background()

	run, err := reg.GetOrCreateRun(ctx, "t", "e")
	require.NoError(t, err)
	stale := *run

	acme := models.MetadataEntry{Year: 2024, Quarter: "Q1", SubCategory: "Retail", Owner: "Acme", DocRunID: "first"}
	run, err = reg.MergeEntries(ctx, run, []models.MetadataEntry{acme})
	require.NoError(t, err)
	version := run.Version

	again, err := reg.MergeEntries(ctx, run, []models.MetadataEntry{acme})
	require.NoError(t, err)
	assert.Equal(t, version, again.Version, "no-op merge must not write")

	// A merge from an outdated copy must not lose Acme.
	globex := models.MetadataEntry{Year: 2024, Quarter: "Q1", SubCategory: "Retail", Owner: "Globex", DocRunID: "g"}
	acmeRenamed := acme
	acmeRenamed.DocRunID = "second"
	merged, err := reg.MergeEntries(ctx, &stale, []models.MetadataEntry{globex, acmeRenamed})
	require.NoError(t, err)

	entries := merged.Tree.Entries(2024, "Q1")
	require.Len(t, entries, 2)
	for _, e := range entries {
		if e.Owner == "Acme" {
			assert.Equal(t, "first", e.DocRunID)
		}
	}
}

func TestConcurrentMergesAreNotLost(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	first := NewRunRegistry(s, "", nil, nil)
	run, err := first.GetOrCreateRun(ctx, "t", "e")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate registries stand in for separate processes.
			reg := NewRunRegistry(s, "", nil, nil)
			entry := models.MetadataEntry{Year: 2024, Quarter: "Q1", SubCategory: "Retail", Owner: fmt.Sprintf("owner-%d", i), DocRunID: fmt.Sprint(i)}
			_, err := reg.MergeEntries(ctx, run, []models.MetadataEntry{entry})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := first.Lookup(ctx, "t", "e")
	require.NoError(t, err)
	assert.Len(t, stored.Tree.Entries(2024, "Q1"), 8)
}

func TestRunLocksAreReleased(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	reg := NewRunRegistry(s, "", nil, nil)
	run, err := reg.GetOrCreateRun(ctx, "t", "e")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := models.MetadataEntry{Year: 2024, Quarter: "Q1", SubCategory: "Retail", Owner: fmt.Sprintf("owner-%d", i), DocRunID: fmt.Sprint(i)}
			_, err := reg.MergeEntries(ctx, run, []models.MetadataEntry{entry})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reg.locksMu.Lock()
	defer reg.locksMu.Unlock()
	assert.Empty(t, reg.locks)
}

func TestDocRunIDIsDeterministic(t *testing.T) {
	a := DocRunID("t", "e", 2024, "Q1", "Retail", "Acme")
	assert.Equal(t, a, DocRunID("t", "e", 2024, "Q1", "Retail", "Acme"))
	assert.NotEqual(t, a, DocRunID("t", "e", 2024, "Q2", "Retail", "Acme"))
	assert.NotEqual(t, DocRunID("t", "ab", 2024, "Q1", "c", "d"), DocRunID("t", "a", 2024, "Q1", "bc", "d"))
}

func TestTriggerValidation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name string
		req  TriggerRequest
		msg  string
	}{
		{"empty", TriggerRequest{}, "missing engagementId, folderPath, siteUrl, tenantId"},
		{"blank tenant", TriggerRequest{SiteURL: "file:///x", FolderPath: "Q1_2024", TenantID: "  ", EngagementID: "e"}, "missing tenantId"},
		{"bad mode", TriggerRequest{SiteURL: "file:///x", FolderPath: "Q1_2024", TenantID: "t", EngagementID: "e", Mode: "bogus"}, "unknown mode"},
		{"bad quarter", TriggerRequest{SiteURL: "file:///x", FolderPath: "x", TenantID: "t", EngagementID: "e", Mode: models.ModeQuarter, Year: 2024, Quarter: "Q5"}, "quarter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.jobs.Trigger(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestTriggerDefaultsToFullMode(t *testing.T) {
	req := validRequest()
	require.NoError(t, req.Validate())
	assert.Empty(t, req.Mode, "validation leaves the request untouched")

	s := memstore.New()
	m := newManager(t, s, funcExecutor(func(ctx context.Context, job *models.Job) (Outcome, error) {
		return Outcome{}, nil
	}), JobManagerConfig{Workers: 1})

	job, err := m.Trigger(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ModeFull, job.Mode)
	assert.Equal(t, models.ModeFull, awaitTerminal(t, s, job.ID).Mode)
}

func TestPollUnknownJob(t *testing.T) {
	res, err := NewStatusPoller(memstore.New()).Poll(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Kind)
	assert.Nil(t, res.Job)
}

func TestGroupDocumentsOrdering(t *testing.T) {
	docs := []models.Document{
		{ID: "3", SubCategory: "Retail", Owner: "Globex", DocRunID: "g", OriginalFilename: "z.pdf"},
		{ID: "1", SubCategory: "Energy", Owner: "Acme", DocRunID: "a", OriginalFilename: "b.pdf"},
		{ID: "2", SubCategory: "Energy", Owner: "Acme", DocRunID: "a", OriginalFilename: "a.pdf"},
	}
	groups := GroupDocuments(docs)
	require.Len(t, groups, 2)
	assert.Equal(t, "Energy", groups[0].SubCategory)
	assert.Equal(t, []FileRef{{DocID: "2", OriginalFilename: "a.pdf"}, {DocID: "1", OriginalFilename: "b.pdf"}}, groups[0].Files)
	assert.Equal(t, "Globex", groups[1].Owner)
}

// --- job manager supervision ---

type funcExecutor func(ctx context.Context, job *models.Job) (Outcome, error)

func (f funcExecutor) Execute(ctx context.Context, job *models.Job) (Outcome, error) {
	return f(ctx, job)
}

func newManager(t *testing.T, s store.Store, exec Executor, cfg JobManagerConfig) *JobManager {
	t.Helper()
	m := NewJobManager(s, exec, cfg, nil, nil)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func validRequest() TriggerRequest {
	return TriggerRequest{SiteURL: "file:///data", FolderPath: "Q1_2024", TenantID: "t", EngagementID: "e"}
}

func awaitTerminal(t *testing.T, s store.Store, jobID string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		return job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestTriggerReturnsBeforeExecution(t *testing.T) {
	s := memstore.New()
	release := make(chan struct{})
	m := newManager(t, s, funcExecutor(func(ctx context.Context, job *models.Job) (Outcome, error) {
		<-release
		return Outcome{RunID: "RUN-000001", Documents: 3}, nil
	}), JobManagerConfig{Workers: 1})

	job, err := m.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	stored, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, stored.Status)

	close(release)
	done := awaitTerminal(t, s, job.ID)
	assert.Equal(t, models.JobComplete, done.Status)
	assert.Equal(t, 3, done.DocumentCount)
	assert.True(t, done.DocumentsUploaded)
}

func TestPanickingJobFails(t *testing.T) {
	s := memstore.New()
	m := newManager(t, s, funcExecutor(func(ctx context.Context, job *models.Job) (Outcome, error) {
		panic("boom")
	}), JobManagerConfig{Workers: 1})

	job, err := m.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	done := awaitTerminal(t, s, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Contains(t, done.Error, "boom")
}

func TestJobTimeout(t *testing.T) {
	s := memstore.New()
	m := newManager(t, s, funcExecutor(func(ctx context.Context, job *models.Job) (Outcome, error) {
		<-ctx.Done()
		return Outcome{}, fmt.Errorf("list files: %w", ctx.Err())
	}), JobManagerConfig{Workers: 1, JobTimeout: 30 * time.Millisecond})

	job, err := m.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	done := awaitTerminal(t, s, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Contains(t, done.Error, "ingestion timed out after 30ms")
}

func TestWatchdogFailsJobIgnoringItsContext(t *testing.T) {
	s := memstore.New()
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	m := newManager(t, s, funcExecutor(func(ctx context.Context, job *models.Job) (Outcome, error) {
		<-hang
		return Outcome{Documents: 1}, nil
	}), JobManagerConfig{Workers: 1, JobTimeout: 20 * time.Millisecond, WatchdogGrace: 20 * time.Millisecond})

	job, err := m.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	done := awaitTerminal(t, s, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Equal(t, "ingestion timed out after 20ms", done.Error)
}

func TestQueueFull(t *testing.T) {
	s := memstore.New()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	m := newManager(t, s, funcExecutor(func(ctx context.Context, job *models.Job) (Outcome, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Outcome{}, nil
	}), JobManagerConfig{Workers: 1, QueueSize: 1})
	t.Cleanup(func() { close(release) })

	_, err := m.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	<-started

	_, err = m.Trigger(context.Background(), validRequest())
	require.NoError(t, err, "second job waits in the queue")

	_, err = m.Trigger(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrQueueFull)

	failed, err := s.ListJobs(context.Background(), store.JobFilter{Status: models.JobFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "ingestion queue is full", failed[0].Error)
}

func TestFailInterruptedJobs(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.InsertJob(ctx, &models.Job{ID: "left-behind", Status: models.JobPending, CreatedAt: time.Now()}))
	require.NoError(t, s.InsertJob(ctx, &models.Job{ID: "done", Status: models.JobPending, CreatedAt: time.Now()}))
	_, err := s.FinishJob(ctx, "done", models.JobResult{Status: models.JobComplete, CompletedAt: time.Now()})
	require.NoError(t, err)

	m := NewJobManager(s, nil, JobManagerConfig{}, nil, nil)
	n, err := m.FailInterruptedJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := s.GetJob(ctx, "left-behind")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, "interrupted: server restarted before completion", job.Error)
}

func TestTriggerBeforeStart(t *testing.T) {
	m := NewJobManager(memstore.New(), nil, JobManagerConfig{}, nil, nil)
	_, err := m.Trigger(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrNotRunning)
}
