package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/webextract/webextract/internal/pipeline"
)

// JobStore implements pipeline.JobStore using Postgres.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore over an open connection.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, name, purpose, target_urls, status, total_urls,
	successful_count, failed_count, created_at, started_at, completed_at,
	batch_size, max_workers, priority`

// CreateJob inserts the pending job row. This happens before any batch is
// enqueued so the record is always visible to status queries.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	urls, err := json.Marshal(job.TargetURLs)
	if err != nil {
		return fmt.Errorf("marshal target urls: %w", err)
	}
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.Exec(ctx, query,
		job.ID, job.Name, job.Purpose, urls, job.Status, job.TotalURLs,
		job.SuccessfulCount, job.FailedCount, job.CreatedAt, job.StartedAt,
		job.CompletedAt, job.Config.BatchSize, job.Config.MaxWorkers,
		job.Config.Priority,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, pipeline.ErrNotFound
		}
		return pipeline.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkRunning flips pending -> running. The status guard makes repeated calls
// from concurrent workers no-ops.
func (s *JobStore) MarkRunning(ctx context.Context, jobID string, at time.Time) error {
	query := `UPDATE jobs SET status = $2, started_at = $3 WHERE id = $1 AND status = $4`
	if _, err := s.db.Exec(ctx, query, jobID, pipeline.JobStatusRunning, at, pipeline.JobStatusPending); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// MarkFinished records a terminal status; already-terminal jobs are left alone.
func (s *JobStore) MarkFinished(ctx context.Context, jobID string, status pipeline.JobStatus, at time.Time) error {
	query := `
		UPDATE jobs SET status = $2, completed_at = $3
		WHERE id = $1 AND status NOT IN ($4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query, jobID, status, at,
		pipeline.JobStatusCompleted, pipeline.JobStatusFailed, pipeline.JobStatusCancelled)
	if err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}
	return nil
}

// UpdateCounters atomically adds the deltas and returns the updated job.
// A single UPDATE keeps concurrent workers on different batches of the same
// job from racing.
func (s *JobStore) UpdateCounters(ctx context.Context, jobID string, succeeded, failed int) (pipeline.Job, error) {
	query := `
		UPDATE jobs
		SET successful_count = successful_count + $2,
		    failed_count = failed_count + $3
		WHERE id = $1
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID, succeeded, failed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Job{}, pipeline.ErrNotFound
		}
		return pipeline.Job{}, fmt.Errorf("update counters: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (pipeline.Job, error) {
	var (
		job  pipeline.Job
		urls []byte
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Purpose, &urls, &job.Status, &job.TotalURLs,
		&job.SuccessfulCount, &job.FailedCount, &job.CreatedAt, &job.StartedAt,
		&job.CompletedAt, &job.Config.BatchSize, &job.Config.MaxWorkers,
		&job.Config.Priority,
	)
	if err != nil {
		return pipeline.Job{}, err
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &job.TargetURLs); err != nil {
			return pipeline.Job{}, fmt.Errorf("unmarshal target urls: %w", err)
		}
	}
	return job, nil
}
