// Package jobs implements the job manager: submission, batching, the
// pending to running transition, and cancellation.
package jobs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/pipeline"
)

// Defaults applied when a submission omits config values.
const (
	DefaultBatchSize  = 10
	DefaultMaxWorkers = 4
)

// Manager owns the job lifecycle up to the point workers take over.
type Manager struct {
	store  pipeline.JobStore
	queue  pipeline.Queue
	idGen  pipeline.IDGenerator
	clock  pipeline.Clock
	logger *zap.Logger
}

// NewManager constructs a Manager.
func NewManager(
	store pipeline.JobStore,
	queue pipeline.Queue,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		store:  store,
		queue:  queue,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// SubmitRequest is the validated input to Submit.
type SubmitRequest struct {
	Name    string
	Purpose string
	URLs    []string
	Config  pipeline.JobConfig
}

// Submit validates the request, persists the job in status pending, splits
// the URL list into contiguous batches, and enqueues them. The job record is
// written before any batch becomes visible to workers. BatchSize must be at
// least 1; surfaces that accept optional sizes apply DefaultBatchSize before
// calling here.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (pipeline.Job, error) {
	urls := cleanURLs(req.URLs)
	if len(urls) == 0 {
		return pipeline.Job{}, fmt.Errorf("no target urls: %w", pipeline.ErrInvalidInput)
	}
	if req.Config.BatchSize < 1 {
		return pipeline.Job{}, fmt.Errorf("batch_size %d: %w", req.Config.BatchSize, pipeline.ErrInvalidInput)
	}
	if req.Purpose == "" {
		return pipeline.Job{}, fmt.Errorf("purpose required: %w", pipeline.ErrInvalidInput)
	}
	cfg := req.Config
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}

	jobID, err := m.idGen.NewID()
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("job id: %w", err)
	}
	job := pipeline.Job{
		ID:         jobID,
		Name:       req.Name,
		Purpose:    req.Purpose,
		TargetURLs: urls,
		Status:     pipeline.JobStatusPending,
		TotalURLs:  len(urls),
		CreatedAt:  m.clock.Now(),
		Config:     cfg,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return pipeline.Job{}, fmt.Errorf("create job: %w", err)
	}

	batches := 0
	for start := 0; start < len(urls); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(urls) {
			end = len(urls)
		}
		batchID, err := m.idGen.NewID()
		if err != nil {
			return pipeline.Job{}, fmt.Errorf("batch id: %w", err)
		}
		batch := pipeline.Batch{
			ID:       batchID,
			JobID:    jobID,
			Purpose:  req.Purpose,
			URLs:     urls[start:end],
			Priority: cfg.Priority,
		}
		if err := m.queue.Enqueue(ctx, batch); err != nil {
			return pipeline.Job{}, fmt.Errorf("enqueue batch: %w", err)
		}
		batches++
	}
	metrics.SetQueueDepth(m.queue.Depth())

	m.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("purpose", req.Purpose),
		zap.Int("urls", len(urls)),
		zap.Int("batches", batches),
		zap.Int("priority", cfg.Priority),
	)
	return job, nil
}

// GetJob returns the stored job record.
func (m *Manager) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// OnBatchStart implements pipeline.JobObserver: the first batch pickup flips
// the job to running. The store guard makes repeat calls no-ops.
func (m *Manager) OnBatchStart(ctx context.Context, jobID string) {
	if err := m.store.MarkRunning(ctx, jobID, m.clock.Now()); err != nil {
		m.logger.Warn("mark running failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Cancel purges queued batches and marks the job cancelled. Batches already
// picked up by a worker run to completion; their records still land.
func (m *Manager) Cancel(ctx context.Context, jobID string) (pipeline.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return pipeline.Job{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	purged := m.queue.PurgeJob(jobID)
	metrics.SetQueueDepth(m.queue.Depth())

	if err := m.store.MarkFinished(ctx, jobID, pipeline.JobStatusCancelled, m.clock.Now()); err != nil {
		return pipeline.Job{}, fmt.Errorf("mark cancelled: %w", err)
	}
	metrics.ObserveJob(string(pipeline.JobStatusCancelled))

	m.logger.Info("job cancelled",
		zap.String("job_id", jobID),
		zap.Int("purged_batches", purged),
	)
	return m.store.GetJob(ctx, jobID)
}

func cleanURLs(urls []string) []string {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
