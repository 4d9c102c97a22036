package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/clock/system"
	"github.com/webextract/webextract/internal/hash/sha256"
	"github.com/webextract/webextract/internal/id/uuid"
	"github.com/webextract/webextract/internal/jobs"
	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/patterns"
	"github.com/webextract/webextract/internal/pipeline"
	queuemem "github.com/webextract/webextract/internal/queue/memory"
	storemem "github.com/webextract/webextract/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type harness struct {
	manager   *jobs.Manager
	queue     *queuemem.Queue
	jobStore  *storemem.JobStore
	records   *storemem.RecordStore
	blobs     *storemem.BlobStore
	events    *memPublisher
	exports   *memExporter
	patterns  *patterns.MemoryStore
	pool      *Pool
	cancelRun context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	queue := queuemem.NewQueue()
	jobStore := storemem.NewJobStore()
	records := storemem.NewRecordStore()
	blobs := storemem.NewBlobStore()
	events := &memPublisher{}
	exports := &memExporter{}
	patternStore := patterns.NewMemoryStore()

	clk := system.New()
	idGen := uuid.New()
	logger := zap.NewNop()

	manager := jobs.NewManager(jobStore, queue, idGen, clk, logger)
	feedback := learning.NewWriter(patternStore, learning.NewEmbedder(), idGen, clk, logger)

	pool := NewPool(cfg, Deps{
		Queue:      queue,
		Jobs:       jobStore,
		Records:    records,
		Exporter:   exports,
		Analyzer:   stubAnalyzer{},
		Selector:   stubSelector{},
		Executor:   stubExecutor{},
		Normalizer: stubNormalizer{},
		Feedback:   feedback,
		Observer:   manager,
		Blobs:      blobs,
		Publisher:  events,
		Hasher:     sha256.New(),
		Clock:      clk,
		Logger:     logger,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	pool.Start(runCtx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
		pool.Wait()
	})

	return &harness{
		manager:   manager,
		queue:     queue,
		jobStore:  jobStore,
		records:   records,
		blobs:     blobs,
		events:    events,
		exports:   exports,
		patterns:  patternStore,
		pool:      pool,
		cancelRun: cancel,
	}
}

func jobStatus(t *testing.T, h *harness, jobID string) pipeline.Job {
	t.Helper()
	job, err := h.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestPool_DrainsBatchAndCompletesJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Workers: 2, URLConcurrency: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	urls := []string{
		"https://one.example",
		"https://two.example",
		"https://fail-three.example",
		"https://four.example",
		"https://fail-five.example",
	}
	job, err := h.manager.Submit(ctx, jobs.SubmitRequest{
		Purpose: "contacts",
		URLs:    urls,
		Config:  pipeline.JobConfig{BatchSize: 2},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return jobStatus(t, h, job.ID).Status == pipeline.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	final := jobStatus(t, h, job.ID)
	require.Equal(t, 3, final.SuccessfulCount)
	require.Equal(t, 2, final.FailedCount)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	records, err := h.records.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 5, "failures become records too")

	byURL := map[string]pipeline.ExtractedRecord{}
	for _, r := range records {
		byURL[r.URL] = r
	}
	ok := byURL["https://one.example"]
	require.True(t, ok.Success)
	require.Equal(t, "name", firstKey(ok.NormalizedData))
	require.NotEmpty(t, ok.BlobURI, "successful fetches are snapshotted")

	failed := byURL["https://fail-three.example"]
	require.False(t, failed.Success)
	require.NotEmpty(t, failed.ErrorMessage)
	require.Empty(t, failed.BlobURI)

	require.Equal(t, 5, h.events.count(), "one completion event per record")
	require.Equal(t, 5, h.patterns.Len(), "every attempt feeds the learner")
}

func TestPool_AllFailuresMarkJobFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Workers: 1, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	job, err := h.manager.Submit(ctx, jobs.SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://fail-a.example", "https://fail-b.example"},
		Config:  pipeline.JobConfig{BatchSize: 2},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return jobStatus(t, h, job.ID).Status == pipeline.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPool_RetriesTransientWriteFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Workers: 1, WriteRetries: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	h.records.FailNextWrites(1)

	job, err := h.manager.Submit(ctx, jobs.SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://one.example"},
		Config:  pipeline.JobConfig{BatchSize: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return jobStatus(t, h, job.ID).Status == pipeline.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	records, err := h.records.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1, "write succeeds on retry")
}

func TestPool_DropsOutcomesWhenWritesKeepFailing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Workers: 1, WriteRetries: 2, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	h.records.FailNextWrites(10)

	job, err := h.manager.Submit(ctx, jobs.SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://one.example"},
		Config:  pipeline.JobConfig{BatchSize: 1},
	})
	require.NoError(t, err)

	// Counters still settle so the job reaches a terminal state.
	require.Eventually(t, func() bool {
		return jobStatus(t, h, job.ID).Status == pipeline.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	records, err := h.records.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, records, "outcomes are dropped after exhausting retries")
	require.Zero(t, h.events.count(), "no events for dropped outcomes")
	require.Empty(t, h.exports.purposes(), "no exports for dropped outcomes")
}

func TestPool_ExportsSuccessfulOutcomes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Workers: 1, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	job, err := h.manager.Submit(ctx, jobs.SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://one.example", "https://two.example", "https://fail-three.example"},
		Config:  pipeline.JobConfig{BatchSize: 3},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return jobStatus(t, h, job.ID).Status == pipeline.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"contacts"}, h.exports.purposes())
	require.Equal(t, 2, h.exports.successCount(), "only successful outcomes reach export tables")
}

func TestPool_SkipsBatchesOfCancelledJobs(t *testing.T) {
	t.Parallel()

	// Pool starts only after cancellation so the batch is guaranteed to be
	// dequeued post-cancel. Simulates a batch the purge missed.
	queue := queuemem.NewQueue()
	jobStore := storemem.NewJobStore()
	records := storemem.NewRecordStore()
	clk := system.New()
	idGen := uuid.New()
	logger := zap.NewNop()
	manager := jobs.NewManager(jobStore, queue, idGen, clk, logger)
	ctx := context.Background()

	job, err := manager.Submit(ctx, jobs.SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://one.example"},
		Config:  pipeline.JobConfig{BatchSize: 1},
	})
	require.NoError(t, err)

	// Re-enqueue a copy of the purged batch, then cancel.
	_, err = manager.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, pipeline.Batch{
		ID: "stray", JobID: job.ID, Purpose: "contacts", URLs: []string{"https://one.example"},
	}))

	pool := NewPool(Config{Workers: 1, RetryBackoff: time.Millisecond}, Deps{
		Queue:      queue,
		Jobs:       jobStore,
		Records:    records,
		Analyzer:   stubAnalyzer{},
		Selector:   stubSelector{},
		Executor:   stubExecutor{},
		Normalizer: stubNormalizer{},
		Observer:   manager,
		Clock:      clk,
		Logger:     logger,
	})
	runCtx, cancel := context.WithCancel(ctx)
	pool.Start(runCtx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
		pool.Wait()
	})

	require.Eventually(t, func() bool { return queue.Depth() == 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	got, err := records.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Empty(t, got, "cancelled jobs never produce records")
	require.Equal(t, pipeline.JobStatusCancelled, jobStatus(t, &harness{jobStore: jobStore}, job.ID).Status)
}

func firstKey(m map[string]any) string {
	for k := range m {
		return k
	}
	return ""
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, url string) pipeline.WebsiteAnalysis {
	return pipeline.WebsiteAnalysis{
		URL:         url,
		WebsiteType: pipeline.SiteCorporate,
		Complexity:  pipeline.ComplexityLow,
	}
}

type stubSelector struct{}

func (stubSelector) Select(context.Context, pipeline.WebsiteAnalysis, string) pipeline.StrategyRecommendation {
	return pipeline.StrategyRecommendation{
		Primary:              pipeline.Strategy{Kind: pipeline.StrategyGenerative, Instruction: "extract contacts"},
		EstimatedSuccessRate: 0.8,
	}
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, url string, rec pipeline.StrategyRecommendation) (pipeline.ExtractionOutcome, error) {
	if strings.Contains(url, "fail") {
		return pipeline.ExtractionOutcome{Attempts: 1, Duration: time.Millisecond},
			fmt.Errorf("execute %s: %w", url, pipeline.ErrStrategyExhausted)
	}
	return pipeline.ExtractionOutcome{
		Fields:       map[string]any{"name": "Acme"},
		StrategyUsed: rec.Primary,
		Attempts:     1,
		Duration:     2 * time.Millisecond,
		RawHTML:      []byte("<html><body>Acme</body></html>"),
		FinalURL:     url,
	}, nil
}

type stubNormalizer struct{}

func (stubNormalizer) Normalize(fields map[string]any, _ string) (map[string]any, float64) {
	return fields, 0.9
}

type memPublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *memPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, data)
	return fmt.Sprintf("m-%d", len(p.bodies)), nil
}

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

type memExporter struct {
	mu        sync.Mutex
	calls     []string
	succeeded int
}

func (e *memExporter) Export(_ context.Context, purpose string, records []pipeline.ExtractedRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, purpose)
	for _, rec := range records {
		if rec.Success && len(rec.NormalizedData) > 0 {
			e.succeeded++
		}
	}
	return nil
}

func (e *memExporter) purposes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *memExporter) successCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.succeeded
}
