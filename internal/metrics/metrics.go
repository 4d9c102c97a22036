// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractorRecordsTotal          *prometheus.CounterVec
	extractorJobsTotal             *prometheus.CounterVec
	extractorBatchWriteFailures    prometheus.Counter
	extractorExtractionSeconds     *prometheus.HistogramVec
	extractorQueueDepth            prometheus.Gauge
	extractorActiveWorkers         prometheus.Gauge
	extractorStrategyPathHitsTotal *prometheus.CounterVec
	extractorGenerationCallsTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		extractorRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_records_total",
				Help: "Total extraction records written, labeled by outcome and strategy.",
			},
			[]string{"outcome", "strategy"},
		)

		extractorJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_jobs_total",
				Help: "Total jobs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		extractorBatchWriteFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "extractor_batch_write_failures_total",
				Help: "Bulk record writes that failed after all retries; those outcomes are lost.",
			},
		)

		extractorExtractionSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_extraction_duration_seconds",
				Help:    "Histogram of per-URL extraction latencies, labeled by strategy.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		)

		extractorQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_queue_depth",
				Help: "Number of batches currently waiting in the priority queue.",
			},
		)

		extractorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "extractor_active_workers",
				Help: "Number of workers currently processing a batch.",
			},
		)

		extractorStrategyPathHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_strategy_path_hits_total",
				Help: "Which selector resolution path produced the recommendation.",
			},
			[]string{"path"},
		)

		extractorGenerationCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_generation_calls_total",
				Help: "Generation backend calls, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord increments the record counter and latency histogram.
func ObserveRecord(outcome string, strategy string, duration time.Duration) {
	extractorRecordsTotal.WithLabelValues(outcome, strategy).Inc()
	extractorExtractionSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveJob increments the terminal-job counter for the given status.
func ObserveJob(status string) {
	extractorJobsTotal.WithLabelValues(status).Inc()
}

// ObserveBatchWriteFailure counts a batch whose outcomes were dropped.
func ObserveBatchWriteFailure() {
	extractorBatchWriteFailures.Inc()
}

// SetQueueDepth records the current queue depth.
func SetQueueDepth(depth int) {
	extractorQueueDepth.Set(float64(depth))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	extractorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	extractorActiveWorkers.Dec()
}

// ObserveStrategyPath counts which resolution path answered a Select call.
func ObserveStrategyPath(path string) {
	extractorStrategyPathHitsTotal.WithLabelValues(path).Inc()
}

// ObserveGenerationCall counts a generation backend call.
func ObserveGenerationCall(backend string, result string) {
	extractorGenerationCallsTotal.WithLabelValues(backend, result).Inc()
}
