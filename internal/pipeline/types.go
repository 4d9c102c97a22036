// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobConfig captures per-job configuration knobs requested by the client.
type JobConfig struct {
	BatchSize  int `json:"batch_size" mapstructure:"batch_size"`
	MaxWorkers int `json:"max_workers" mapstructure:"max_workers"`
	Priority   int `json:"priority" mapstructure:"priority"`
}

// Job represents the metadata persisted for each submitted extraction request.
type Job struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Purpose         string     `json:"purpose"`
	TargetURLs      []string   `json:"target_urls"`
	Status          JobStatus  `json:"status"`
	TotalURLs       int        `json:"total_urls"`
	SuccessfulCount int        `json:"successful_count"`
	FailedCount     int        `json:"failed_count"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Config          JobConfig  `json:"config"`
}

// Batch is the unit of work dequeued by a single worker: a contiguous slice
// of a job's URL list. Batches live only inside the queue.
type Batch struct {
	ID       string   `json:"id"`
	JobID    string   `json:"job_id"`
	Purpose  string   `json:"purpose"`
	URLs     []string `json:"urls"`
	Priority int      `json:"priority"`
}

// WebsiteType classifies the overall shape of a page.
type WebsiteType string

// Website type values produced by the analyzer.
const (
	SiteDirectoryListing WebsiteType = "directory_listing"
	SiteECommerce        WebsiteType = "e_commerce"
	SiteSocialMedia      WebsiteType = "social_media"
	SiteNewsArticle      WebsiteType = "news_article"
	SiteCorporate        WebsiteType = "corporate"
	SiteFormHeavy        WebsiteType = "form_heavy"
	SiteSPADynamic       WebsiteType = "spa_dynamic"
	SiteDataTable        WebsiteType = "data_table"
)

// Complexity grades how hard a page is to extract from.
type Complexity string

// Complexity values produced by the analyzer.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// WebsiteAnalysis is the per-URL classification handed to the selector.
// It is produced fresh per extraction attempt and never persisted.
type WebsiteAnalysis struct {
	URL             string      `json:"url"`
	WebsiteType     WebsiteType `json:"website_type"`
	Complexity      Complexity  `json:"complexity"`
	Frameworks      []string    `json:"frameworks"`
	AntiBotMeasures []string    `json:"anti_bot_measures"`
	ContentPatterns []string    `json:"content_patterns"`
	HasJavaScript   bool        `json:"has_javascript"`
	HasAuthRequired bool        `json:"has_auth_required"`
}

// StrategyKind enumerates the extraction approaches the executor understands.
// Each kind carries its own typed configuration payload on Strategy; dispatch
// is resolved once at recommendation time, never by string comparison later.
type StrategyKind string

// Strategy kinds.
const (
	StrategySelector   StrategyKind = "selector"
	StrategyStructured StrategyKind = "structured_data"
	StrategyGenerative StrategyKind = "generative"
)

// Strategy is a named extraction approach plus its configuration.
type Strategy struct {
	Kind StrategyKind `json:"kind"`
	// Selectors maps output field names to CSS selectors (selector kind).
	Selectors map[string]string `json:"selectors,omitempty"`
	// Instruction is the extraction prompt fragment (generative kind).
	Instruction string `json:"instruction,omitempty"`
	// RenderJS requests a headless render before extraction.
	RenderJS bool `json:"render_js,omitempty"`
}

// Empty reports whether the strategy carries no usable kind.
func (s Strategy) Empty() bool { return s.Kind == "" }

// Label is the short name recorded on results and learned patterns.
func (s Strategy) Label() string { return string(s.Kind) }

// StrategyRecommendation is the selector's answer: a primary strategy and an
// ordered fallback chain.
type StrategyRecommendation struct {
	Primary              Strategy   `json:"primary"`
	Fallbacks            []Strategy `json:"fallbacks,omitempty"`
	EstimatedSuccessRate float64    `json:"estimated_success_rate"`
	Reasoning            string     `json:"reasoning,omitempty"`
}

// Chain returns primary plus fallbacks in execution order.
func (r StrategyRecommendation) Chain() []Strategy {
	chain := make([]Strategy, 0, 1+len(r.Fallbacks))
	chain = append(chain, r.Primary)
	chain = append(chain, r.Fallbacks...)
	return chain
}

// ExtractionOutcome is the executor's result for one URL.
type ExtractionOutcome struct {
	Fields       map[string]any
	StrategyUsed Strategy
	Attempts     int
	Duration     time.Duration
	RawHTML      []byte
	FinalURL     string
}

// ExtractedRecord is written exactly once per URL attempt and never updated.
type ExtractedRecord struct {
	JobID            string         `json:"job_id"`
	URL              string         `json:"url"`
	Purpose          string         `json:"purpose"`
	StrategyUsed     string         `json:"strategy_used"`
	RawData          map[string]any `json:"raw_data,omitempty"`
	NormalizedData   map[string]any `json:"normalized_data,omitempty"`
	Success          bool           `json:"success"`
	ConfidenceScore  float64        `json:"confidence_score"`
	DataQualityScore float64        `json:"data_quality_score"`
	FieldCount       int            `json:"field_count"`
	ExtractionMs     int64          `json:"extraction_ms"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	WebsiteType      WebsiteType    `json:"website_type,omitempty"`
	BlobURI          string         `json:"blob_uri,omitempty"`
	ExtractedAt      time.Time      `json:"extracted_at"`
}

// LearnedPattern is an append-only entry in the similarity store.
type LearnedPattern struct {
	ID          string      `json:"id"`
	Summary     string      `json:"summary"`
	Vector      []float32   `json:"vector"`
	WebsiteType WebsiteType `json:"website_type"`
	Purpose     string      `json:"purpose"`
	Complexity  Complexity  `json:"complexity"`
	Frameworks  []string    `json:"frameworks,omitempty"`
	Strategy    Strategy    `json:"strategy"`
	SuccessRate float64     `json:"success_rate"`
	ObservedAt  time.Time   `json:"observed_at"`
}

// PatternMatch is a similarity-store neighbor plus its cosine score.
type PatternMatch struct {
	Pattern LearnedPattern
	Score   float64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL      string
	RenderJS bool
	Timeout  time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Clamp01 bounds a score to [0,1]; scores outside the range are a programming
// error upstream, never surfaced to callers.
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
