package memory

import (
	"context"
	"sync"
	"time"

	"github.com/webextract/webextract/internal/pipeline"
)

// RecordStore keeps extraction records in memory, append-only.
type RecordStore struct {
	mu      sync.RWMutex
	records []pipeline.ExtractedRecord
	failN   int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// FailNextWrites makes the next n InsertRecords calls fail (test hook).
func (s *RecordStore) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
}

// InsertRecords appends all records atomically.
func (s *RecordStore) InsertRecords(_ context.Context, records []pipeline.ExtractedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errWriteUnavailable
	}
	s.records = append(s.records, records...)
	return nil
}

// ListRecords returns all records for a job.
func (s *RecordStore) ListRecords(_ context.Context, jobID string) ([]pipeline.ExtractedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.ExtractedRecord
	for _, r := range s.records {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

// AvgExtractionMs averages stored extraction times for a job.
func (s *RecordStore) AvgExtractionMs(_ context.Context, jobID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	var n int64
	for _, r := range s.records {
		if r.JobID == jobID {
			sum += r.ExtractionMs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

// CountSince counts records extracted after the given instant.
func (s *RecordStore) CountSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records {
		if r.ExtractedAt.After(since) {
			n++
		}
	}
	return n, nil
}

type writeError string

func (e writeError) Error() string { return string(e) }

const errWriteUnavailable = writeError("record store unavailable")
