// Package worker runs the extraction pipeline: a fixed set of worker loops
// drain the priority queue and drive analyze, select, execute, normalize,
// store, and learn for every URL in a batch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/pipeline"
)

// Config sizes the pool.
type Config struct {
	Workers        int
	URLConcurrency int
	WriteRetries   int
	RetryBackoff   time.Duration
	EventTopic     string
}

// Deps collects the pipeline stages and stores a pool drives.
type Deps struct {
	Queue      pipeline.Queue
	Jobs       pipeline.JobStore
	Records    pipeline.RecordStore
	Exporter   pipeline.Exporter
	Analyzer   pipeline.Analyzer
	Selector   pipeline.Selector
	Executor   pipeline.Executor
	Normalizer pipeline.Normalizer
	Feedback   pipeline.Feedback
	Observer   pipeline.JobObserver
	Blobs      pipeline.BlobStore
	Publisher  pipeline.Publisher
	Hasher     pipeline.Hasher
	Clock      pipeline.Clock
	Logger     *zap.Logger
}

// Pool is the fixed worker set. Workers are started once and run until the
// context ends or the queue closes.
type Pool struct {
	cfg    Config
	deps   Deps
	wg     sync.WaitGroup
	active atomic.Int32
}

// NewPool builds a Pool.
func NewPool(cfg Config, deps Deps) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.URLConcurrency <= 0 {
		cfg.URLConcurrency = 10
	}
	if cfg.WriteRetries <= 0 {
		cfg.WriteRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = "extraction-events"
	}
	return &Pool{cfg: cfg, deps: deps}
}

// Start launches the worker loops.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until all workers exit.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID int) {
	log := p.deps.Logger.With(zap.Int("worker", workerID))
	for {
		batch, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrQueueClosed) || ctx.Err() != nil {
				log.Debug("worker exiting", zap.Error(err))
				return
			}
			log.Warn("dequeue failed", zap.Error(err))
			continue
		}
		metrics.SetQueueDepth(p.deps.Queue.Depth())

		job, err := p.deps.Jobs.GetJob(ctx, batch.JobID)
		if err != nil {
			log.Warn("batch for unknown job dropped", zap.String("job_id", batch.JobID), zap.Error(err))
			continue
		}
		if job.Status.Terminal() {
			log.Debug("batch for finished job dropped",
				zap.String("job_id", batch.JobID),
				zap.String("status", string(job.Status)))
			continue
		}

		p.deps.Observer.OnBatchStart(ctx, batch.JobID)

		p.active.Add(1)
		metrics.IncActiveWorkers()
		p.processBatch(ctx, log, batch)
		metrics.DecActiveWorkers()
		p.active.Add(-1)
	}
}

// TotalWorkers reports the configured pool size.
func (p *Pool) TotalWorkers() int { return p.cfg.Workers }

// ActiveWorkers reports how many workers are processing a batch right now.
func (p *Pool) ActiveWorkers() int { return int(p.active.Load()) }

// processBatch runs every URL to an outcome, writes all records in one bulk
// transaction, then bumps the job counters. One URL failing never aborts the
// rest.
func (p *Pool) processBatch(ctx context.Context, log *zap.Logger, batch pipeline.Batch) {
	records := make([]pipeline.ExtractedRecord, len(batch.URLs))

	sem := make(chan struct{}, p.cfg.URLConcurrency)
	var wg sync.WaitGroup
	for i, url := range batch.URLs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			records[i] = p.processURL(ctx, batch, url)
		}(i, url)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, rec := range records {
		if rec.Success {
			succeeded++
		} else {
			failed++
		}
	}

	if err := p.writeRecords(ctx, records); err != nil {
		log.Error("batch write failed after retries, outcomes dropped",
			zap.String("job_id", batch.JobID),
			zap.Int("records", len(records)),
			zap.Error(err))
		metrics.ObserveBatchWriteFailure()
	} else {
		p.exportRecords(ctx, log, batch.Purpose, records)
		p.publishEvents(ctx, log, records)
	}

	p.settleCounters(ctx, log, batch.JobID, succeeded, failed)
}

func (p *Pool) writeRecords(ctx context.Context, records []pipeline.ExtractedRecord) error {
	var err error
	for attempt := 0; attempt < p.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
		if err = p.deps.Records.InsertRecords(ctx, records); err == nil {
			return nil
		}
	}
	return err
}

// exportRecords mirrors the batch into the purpose's export table. Export
// failures only cost the export rows, never the batch.
func (p *Pool) exportRecords(ctx context.Context, log *zap.Logger, purpose string, records []pipeline.ExtractedRecord) {
	if p.deps.Exporter == nil {
		return
	}
	if err := p.deps.Exporter.Export(ctx, purpose, records); err != nil {
		log.Warn("export write failed", zap.String("purpose", purpose), zap.Error(err))
	}
}

// settleCounters applies the batch deltas and flips the job to a terminal
// status once every URL is accounted for.
func (p *Pool) settleCounters(ctx context.Context, log *zap.Logger, jobID string, succeeded, failed int) {
	job, err := p.deps.Jobs.UpdateCounters(ctx, jobID, succeeded, failed)
	if err != nil {
		log.Error("counter update failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status.Terminal() || job.SuccessfulCount+job.FailedCount < job.TotalURLs {
		return
	}
	final := pipeline.JobStatusCompleted
	if job.SuccessfulCount == 0 {
		final = pipeline.JobStatusFailed
	}
	if err := p.deps.Jobs.MarkFinished(ctx, jobID, final, p.deps.Clock.Now()); err != nil {
		log.Error("finish transition failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(final))
	log.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(final)),
		zap.Int("succeeded", job.SuccessfulCount),
		zap.Int("failed", job.FailedCount),
	)
}

// processURL drives the full pipeline for one URL and always returns a
// record, successful or not.
func (p *Pool) processURL(ctx context.Context, batch pipeline.Batch, url string) pipeline.ExtractedRecord {
	record := pipeline.ExtractedRecord{
		JobID:       batch.JobID,
		URL:         url,
		Purpose:     batch.Purpose,
		ExtractedAt: p.deps.Clock.Now(),
	}

	analysis := p.deps.Analyzer.Analyze(ctx, url)
	record.WebsiteType = analysis.WebsiteType

	rec := p.deps.Selector.Select(ctx, analysis, batch.Purpose)

	outcome, err := p.deps.Executor.Execute(ctx, url, rec)
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		record.StrategyUsed = rec.Primary.Label()
		record.ExtractionMs = outcome.Duration.Milliseconds()
		metrics.ObserveRecord("failure", record.StrategyUsed, outcome.Duration)
		p.recordFeedback(ctx, analysis, rec.Primary, batch.Purpose, learning.EffectiveSuccessRate(false, 0))
		return record
	}

	normalized, quality := p.deps.Normalizer.Normalize(outcome.Fields, batch.Purpose)

	record.Success = true
	record.StrategyUsed = outcome.StrategyUsed.Label()
	record.RawData = outcome.Fields
	record.NormalizedData = normalized
	record.ConfidenceScore = pipeline.Clamp01(rec.EstimatedSuccessRate)
	record.DataQualityScore = quality
	record.FieldCount = len(normalized)
	record.ExtractionMs = outcome.Duration.Milliseconds()
	record.BlobURI = p.snapshot(ctx, batch.JobID, outcome.RawHTML)

	metrics.ObserveRecord("success", record.StrategyUsed, outcome.Duration)
	p.recordFeedback(ctx, analysis, outcome.StrategyUsed, batch.Purpose, learning.EffectiveSuccessRate(true, quality))
	return record
}

// snapshot persists the raw HTML and returns its URI; failures only cost the
// snapshot, never the record.
func (p *Pool) snapshot(ctx context.Context, jobID string, raw []byte) string {
	if p.deps.Blobs == nil || p.deps.Hasher == nil || len(raw) == 0 {
		return ""
	}
	digest, err := p.deps.Hasher.Hash(raw)
	if err != nil {
		return ""
	}
	uri, err := p.deps.Blobs.PutObject(ctx, fmt.Sprintf("raw/%s/%s.html", jobID, digest), "text/html", raw)
	if err != nil {
		p.deps.Logger.Warn("snapshot write failed", zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	return uri
}

func (p *Pool) recordFeedback(ctx context.Context, analysis pipeline.WebsiteAnalysis, strategy pipeline.Strategy, purpose string, successRate float64) {
	if p.deps.Feedback == nil {
		return
	}
	if err := p.deps.Feedback.Record(ctx, analysis, strategy, purpose, successRate); err != nil {
		p.deps.Logger.Warn("feedback write failed", zap.Error(err))
	}
}

// extractionEvent is the completion notification published per record.
type extractionEvent struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Purpose     string    `json:"purpose"`
	Success     bool      `json:"success"`
	Strategy    string    `json:"strategy,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

func (p *Pool) publishEvents(ctx context.Context, log *zap.Logger, records []pipeline.ExtractedRecord) {
	if p.deps.Publisher == nil {
		return
	}
	for _, rec := range records {
		event := extractionEvent{
			JobID:       rec.JobID,
			URL:         rec.URL,
			Purpose:     rec.Purpose,
			Success:     rec.Success,
			Strategy:    rec.StrategyUsed,
			ExtractedAt: rec.ExtractedAt,
		}
		if _, err := p.deps.Publisher.Publish(ctx, p.cfg.EventTopic, event); err != nil {
			log.Warn("event publish failed", zap.String("url", rec.URL), zap.Error(err))
		}
	}
}
