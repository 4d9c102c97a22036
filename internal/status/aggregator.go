// Package status derives job progress and fleet statistics on demand. The
// aggregator holds no state of its own; everything is computed from the
// stores and live counters at query time.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/webextract/webextract/internal/pipeline"
)

// ThroughputWindow is the rolling window used for fleet throughput.
const ThroughputWindow = 5 * time.Minute

// WorkerCounter reports live worker occupancy.
type WorkerCounter interface {
	TotalWorkers() int
	ActiveWorkers() int
}

// JobProgress is the per-job view returned by the status surface.
type JobProgress struct {
	JobID               string             `json:"job_id"`
	Name                string             `json:"name,omitempty"`
	Purpose             string             `json:"purpose"`
	Status              pipeline.JobStatus `json:"status"`
	TotalURLs           int                `json:"total_urls"`
	Processed           int                `json:"processed"`
	Succeeded           int                `json:"succeeded"`
	Failed              int                `json:"failed"`
	Remaining           int                `json:"remaining"`
	CompletionPercent   float64            `json:"completion_percent"`
	SuccessRate         float64            `json:"success_rate"`
	AvgExtractionMs     float64            `json:"avg_extraction_ms"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
}

// FleetStats is the service-wide view.
type FleetStats struct {
	QueueDepth        int     `json:"queue_depth"`
	ActiveWorkers     int     `json:"active_workers"`
	IdleWorkers       int     `json:"idle_workers"`
	RecordsPerMinute  float64 `json:"records_per_minute"`
	ThroughputWindowS int     `json:"throughput_window_seconds"`
}

// Aggregator implements the read-only status surface.
type Aggregator struct {
	jobs    pipeline.JobStore
	records pipeline.RecordStore
	queue   pipeline.Queue
	workers WorkerCounter
	clock   pipeline.Clock
}

// New builds an Aggregator. workers may be nil when no pool is running.
func New(
	jobs pipeline.JobStore,
	records pipeline.RecordStore,
	queue pipeline.Queue,
	workers WorkerCounter,
	clock pipeline.Clock,
) *Aggregator {
	return &Aggregator{
		jobs:    jobs,
		records: records,
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// JobProgress computes the progress view for one job. Unknown IDs surface
// pipeline.ErrNotFound.
func (a *Aggregator) JobProgress(ctx context.Context, jobID string) (JobProgress, error) {
	job, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		return JobProgress{}, err
	}

	processed := job.SuccessfulCount + job.FailedCount
	remaining := job.TotalURLs - processed
	if remaining < 0 {
		remaining = 0
	}

	progress := JobProgress{
		JobID:       job.ID,
		Name:        job.Name,
		Purpose:     job.Purpose,
		Status:      job.Status,
		TotalURLs:   job.TotalURLs,
		Processed:   processed,
		Succeeded:   job.SuccessfulCount,
		Failed:      job.FailedCount,
		Remaining:   remaining,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.TotalURLs > 0 {
		progress.CompletionPercent = 100 * float64(processed) / float64(job.TotalURLs)
	}
	if processed > 0 {
		progress.SuccessRate = float64(job.SuccessfulCount) / float64(processed)
	}

	avgMs, err := a.records.AvgExtractionMs(ctx, jobID)
	if err != nil {
		return JobProgress{}, fmt.Errorf("average extraction time: %w", err)
	}
	progress.AvgExtractionMs = avgMs

	if eta, ok := a.estimateCompletion(job, remaining, avgMs); ok {
		progress.EstimatedCompletion = &eta
	}
	return progress, nil
}

// estimateCompletion projects remaining work over the historical average
// extraction time, spread across the currently active workers.
func (a *Aggregator) estimateCompletion(job pipeline.Job, remaining int, avgMs float64) (time.Time, bool) {
	if job.Status != pipeline.JobStatusRunning || remaining == 0 || avgMs <= 0 {
		return time.Time{}, false
	}
	lanes := 1
	if a.workers != nil {
		if active := a.workers.ActiveWorkers(); active > 1 {
			lanes = active
		}
	}
	remainingMs := avgMs * float64(remaining) / float64(lanes)
	return a.clock.Now().Add(time.Duration(remainingMs) * time.Millisecond), true
}

// FleetStats computes service-wide statistics.
func (a *Aggregator) FleetStats(ctx context.Context) (FleetStats, error) {
	stats := FleetStats{
		QueueDepth:        a.queue.Depth(),
		ThroughputWindowS: int(ThroughputWindow.Seconds()),
	}
	if a.workers != nil {
		total := a.workers.TotalWorkers()
		stats.ActiveWorkers = a.workers.ActiveWorkers()
		stats.IdleWorkers = total - stats.ActiveWorkers
		if stats.IdleWorkers < 0 {
			stats.IdleWorkers = 0
		}
	}

	count, err := a.records.CountSince(ctx, a.clock.Now().Add(-ThroughputWindow))
	if err != nil {
		return FleetStats{}, fmt.Errorf("throughput count: %w", err)
	}
	stats.RecordsPerMinute = float64(count) / ThroughputWindow.Minutes()
	return stats, nil
}
