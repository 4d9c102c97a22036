package learning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

// Writer appends learned patterns after each extraction attempt. The store
// is write-only from here; reads happen inside the strategy selector.
type Writer struct {
	store    pipeline.PatternStore
	embedder *Embedder
	idGen    pipeline.IDGenerator
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(
	store pipeline.PatternStore,
	embedder *Embedder,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Writer {
	return &Writer{
		store:    store,
		embedder: embedder,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
	}
}

// EffectiveSuccessRate weighs execution success by field completeness, so a
// success that extracted almost nothing scores near the floor.
func EffectiveSuccessRate(success bool, qualityScore float64) float64 {
	if !success {
		return 0
	}
	return pipeline.Clamp01(0.5 + 0.5*qualityScore)
}

// Record appends one pattern entry. Entries are never overwritten; the store
// accumulates a time-ordered history that selection queries filter and rank.
func (w *Writer) Record(
	ctx context.Context,
	analysis pipeline.WebsiteAnalysis,
	strategy pipeline.Strategy,
	purpose string,
	successRate float64,
) error {
	id, err := w.idGen.NewID()
	if err != nil {
		return fmt.Errorf("pattern id: %w", err)
	}
	summary := w.embedder.Summarize(analysis, purpose, strategy)
	pattern := pipeline.LearnedPattern{
		ID:          id,
		Summary:     summary,
		Vector:      w.embedder.Embed(summary),
		WebsiteType: analysis.WebsiteType,
		Purpose:     purpose,
		Complexity:  analysis.Complexity,
		Frameworks:  analysis.Frameworks,
		Strategy:    strategy,
		SuccessRate: pipeline.Clamp01(successRate),
		ObservedAt:  w.clock.Now(),
	}
	if err := w.store.Append(ctx, pattern); err != nil {
		return fmt.Errorf("append pattern: %w", err)
	}
	w.logger.Debug("learned pattern recorded",
		zap.String("pattern_id", id),
		zap.String("purpose", purpose),
		zap.String("strategy", strategy.Label()),
		zap.Float64("success_rate", pattern.SuccessRate),
	)
	return nil
}
