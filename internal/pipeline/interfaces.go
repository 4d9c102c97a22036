package pipeline

import (
	"context"
	"time"
)

// Queue provides priority enqueue/dequeue semantics for batches.
type Queue interface {
	Enqueue(ctx context.Context, batch Batch) error
	Dequeue(ctx context.Context) (Batch, error)
	// PurgeJob removes all still-queued batches for a job, returning the count.
	PurgeJob(jobID string) int
	Depth() int
}

// JobStore persists job metadata and counters.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// MarkRunning flips pending -> running; calling it again is a no-op.
	MarkRunning(ctx context.Context, jobID string, at time.Time) error
	MarkFinished(ctx context.Context, jobID string, status JobStatus, at time.Time) error
	// UpdateCounters atomically adds the deltas and returns the updated job.
	UpdateCounters(ctx context.Context, jobID string, succeeded, failed int) (Job, error)
}

// RecordStore persists extraction results.
type RecordStore interface {
	// InsertRecords writes all records in a single transaction.
	InsertRecords(ctx context.Context, records []ExtractedRecord) error
	ListRecords(ctx context.Context, jobID string) ([]ExtractedRecord, error)
	// AvgExtractionMs is the historical mean extraction time for a job.
	AvgExtractionMs(ctx context.Context, jobID string) (float64, error)
	// CountSince counts records written after the given instant (throughput).
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// Exporter lands successful records in purpose-specific tables whose columns
// are derived from the observed normalized fields.
type Exporter interface {
	Export(ctx context.Context, purpose string, records []ExtractedRecord) error
}

// PatternStore is the similarity store: append-only writes, nearest-neighbor
// reads.
type PatternStore interface {
	Append(ctx context.Context, pattern LearnedPattern) error
	Nearest(ctx context.Context, vector []float32, purpose string, minSuccessRate float64, k int) ([]PatternMatch, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Generator is a text-generation backend (prompt in, text out).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Analyzer classifies a single URL. It never fails: on any error it returns a
// conservative fallback analysis.
type Analyzer interface {
	Analyze(ctx context.Context, url string) WebsiteAnalysis
}

// Selector picks an extraction strategy for an analysis and purpose. It never
// fails: the rule-based default is always available.
type Selector interface {
	Select(ctx context.Context, analysis WebsiteAnalysis, purpose string) StrategyRecommendation
}

// Executor runs a recommendation's strategy chain against a URL.
type Executor interface {
	Execute(ctx context.Context, url string, rec StrategyRecommendation) (ExtractionOutcome, error)
}

// Normalizer canonicalizes raw fields and scores data quality.
type Normalizer interface {
	Normalize(fields map[string]any, purpose string) (map[string]any, float64)
}

// Feedback appends strategy outcomes to the learning store.
type Feedback interface {
	Record(ctx context.Context, analysis WebsiteAnalysis, strategy Strategy, purpose string, successRate float64) error
}

// JobObserver is notified when a worker picks up the first batch of a job.
type JobObserver interface {
	OnBatchStart(ctx context.Context, jobID string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for blob naming and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}
