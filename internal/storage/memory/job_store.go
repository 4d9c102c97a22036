// Package memory provides in-process store implementations for local
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/webextract/webextract/internal/pipeline"
)

// JobStore keeps jobs in a mutex-guarded map.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]pipeline.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]pipeline.Job)}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return pipeline.ErrInvalidInput
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob returns a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	return job, nil
}

// MarkRunning flips pending -> running once; later calls are no-ops.
func (s *JobStore) MarkRunning(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status != pipeline.JobStatusPending {
		return nil
	}
	job.Status = pipeline.JobStatusRunning
	started := at
	job.StartedAt = &started
	s.jobs[jobID] = job
	return nil
}

// MarkFinished records a terminal status unless the job already reached one.
func (s *JobStore) MarkFinished(_ context.Context, jobID string, status pipeline.JobStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	finished := at
	job.CompletedAt = &finished
	s.jobs[jobID] = job
	return nil
}

// UpdateCounters atomically adds the deltas and returns the updated job.
func (s *JobStore) UpdateCounters(_ context.Context, jobID string, succeeded, failed int) (pipeline.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	job.SuccessfulCount += succeeded
	job.FailedCount += failed
	s.jobs[jobID] = job
	return job, nil
}
