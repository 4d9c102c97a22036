// Package strategy resolves extraction strategies: a curated pattern table,
// generative synthesis, a similarity lookup over learned patterns, and a
// rule-based default, consulted in that order.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/gen"
	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/pipeline"
)

// Config tunes strategy resolution. Patterns is the exact-match table this
// selector consults; nil means the curated default set. Selectors never share
// table state, so instances can run with independent patterns.
type Config struct {
	Patterns       Table
	LookupK        int
	MinSuccessRate float64
	MinSimilarity  float64
	SynthTimeout   time.Duration
}

// Selector implements pipeline.Selector.
type Selector struct {
	generator pipeline.Generator
	patterns  pipeline.PatternStore
	embedder  *learning.Embedder
	cfg       Config
	logger    *zap.Logger
}

// New builds a Selector. generator and patterns may each be nil; the
// corresponding resolution path is then skipped.
func New(
	generator pipeline.Generator,
	patterns pipeline.PatternStore,
	embedder *learning.Embedder,
	cfg Config,
	logger *zap.Logger,
) *Selector {
	if cfg.LookupK <= 0 {
		cfg.LookupK = 5
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.7
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = 0.75
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = 20 * time.Second
	}
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultTable()
	}
	return &Selector{
		generator: generator,
		patterns:  patterns,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Select resolves a recommendation for the analysis and purpose. Paths that
// error are skipped silently; the rule-based default always answers.
func (s *Selector) Select(ctx context.Context, analysis pipeline.WebsiteAnalysis, purpose string) pipeline.StrategyRecommendation {
	if rec, ok := s.fromTable(analysis, purpose); ok {
		metrics.ObserveStrategyPath("exact_table")
		return rec
	}
	if rec, ok := s.fromSynthesis(ctx, analysis, purpose); ok {
		metrics.ObserveStrategyPath("generative")
		return rec
	}
	if rec, ok := s.fromSimilarity(ctx, analysis, purpose); ok {
		metrics.ObserveStrategyPath("similarity")
		return rec
	}
	metrics.ObserveStrategyPath("rules")
	return RuleBased(analysis, purpose)
}

func (s *Selector) fromTable(analysis pipeline.WebsiteAnalysis, purpose string) (pipeline.StrategyRecommendation, bool) {
	rec, ok := s.cfg.Patterns[TableKey{analysis.WebsiteType, purpose}]
	if !ok {
		return pipeline.StrategyRecommendation{}, false
	}
	if analysis.WebsiteType == pipeline.SiteSPADynamic || analysis.Complexity == pipeline.ComplexityHigh {
		rec.Primary.RenderJS = true
	}
	return rec, true
}

const synthesisPrompt = `You design extraction strategies for a scraping pipeline.

Target analysis: website_type=%s complexity=%s frameworks=%v content_patterns=%v has_javascript=%t
Extraction purpose: %q

Available strategy kinds:
- "selector": CSS selector per output field; requires a "selectors" object.
- "structured_data": parse schema.org JSON-LD; no configuration.
- "generative": LLM extraction; requires an "instruction" string.

Respond with exactly one JSON object, no prose:
{"primary": {"kind": "...", "selectors": {...}, "instruction": "...", "render_js": false},
 "fallbacks": [ ...same shape... ],
 "estimated_success_rate": 0.0,
 "reasoning": "one sentence"}`

func (s *Selector) fromSynthesis(ctx context.Context, analysis pipeline.WebsiteAnalysis, purpose string) (pipeline.StrategyRecommendation, bool) {
	if s.generator == nil {
		return pipeline.StrategyRecommendation{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SynthTimeout)
	defer cancel()

	prompt := fmt.Sprintf(synthesisPrompt,
		analysis.WebsiteType, analysis.Complexity, analysis.Frameworks,
		analysis.ContentPatterns, analysis.HasJavaScript, purpose)

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Debug("strategy synthesis failed", zap.Error(err))
		return pipeline.StrategyRecommendation{}, false
	}
	rec, err := parseRecommendation(text)
	if err != nil {
		s.logger.Debug("strategy synthesis unparseable", zap.Error(err))
		return pipeline.StrategyRecommendation{}, false
	}
	return rec, true
}

func (s *Selector) fromSimilarity(ctx context.Context, analysis pipeline.WebsiteAnalysis, purpose string) (pipeline.StrategyRecommendation, bool) {
	if s.patterns == nil || s.embedder == nil {
		return pipeline.StrategyRecommendation{}, false
	}
	summary := s.embedder.Summarize(analysis, purpose, pipeline.Strategy{})
	vector := s.embedder.Embed(summary)

	matches, err := s.patterns.Nearest(ctx, vector, purpose, s.cfg.MinSuccessRate, s.cfg.LookupK)
	if err != nil {
		s.logger.Debug("similarity lookup failed", zap.Error(err))
		return pipeline.StrategyRecommendation{}, false
	}
	if len(matches) == 0 || matches[0].Score < s.cfg.MinSimilarity {
		return pipeline.StrategyRecommendation{}, false
	}
	best := matches[0]
	return pipeline.StrategyRecommendation{
		Primary:              best.Pattern.Strategy,
		Fallbacks:            []pipeline.Strategy{generativeFor(purpose)},
		EstimatedSuccessRate: pipeline.Clamp01(best.Pattern.SuccessRate),
		Reasoning: fmt.Sprintf("learned pattern %s matched with similarity %.2f",
			best.Pattern.ID, best.Score),
	}, true
}

type wireStrategy struct {
	Kind        string            `json:"kind"`
	Selectors   map[string]string `json:"selectors,omitempty"`
	Instruction string            `json:"instruction,omitempty"`
	RenderJS    bool              `json:"render_js,omitempty"`
}

type wireRecommendation struct {
	Primary              wireStrategy   `json:"primary"`
	Fallbacks            []wireStrategy `json:"fallbacks,omitempty"`
	EstimatedSuccessRate float64        `json:"estimated_success_rate"`
	Reasoning            string         `json:"reasoning,omitempty"`
}

func parseRecommendation(text string) (pipeline.StrategyRecommendation, error) {
	raw, err := gen.FirstJSONObject(text)
	if err != nil {
		return pipeline.StrategyRecommendation{}, err
	}
	var wire wireRecommendation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return pipeline.StrategyRecommendation{}, fmt.Errorf("decode recommendation: %w", err)
	}
	primary, err := validateStrategy(wire.Primary)
	if err != nil {
		return pipeline.StrategyRecommendation{}, fmt.Errorf("primary: %w", err)
	}
	rec := pipeline.StrategyRecommendation{
		Primary:              primary,
		EstimatedSuccessRate: pipeline.Clamp01(wire.EstimatedSuccessRate),
		Reasoning:            wire.Reasoning,
	}
	for i, w := range wire.Fallbacks {
		fb, err := validateStrategy(w)
		if err != nil {
			return pipeline.StrategyRecommendation{}, fmt.Errorf("fallback %d: %w", i, err)
		}
		rec.Fallbacks = append(rec.Fallbacks, fb)
	}
	return rec, nil
}

func validateStrategy(w wireStrategy) (pipeline.Strategy, error) {
	kind := pipeline.StrategyKind(w.Kind)
	switch kind {
	case pipeline.StrategySelector:
		if len(w.Selectors) == 0 {
			return pipeline.Strategy{}, fmt.Errorf("selector strategy without selectors")
		}
	case pipeline.StrategyStructured:
	case pipeline.StrategyGenerative:
		if w.Instruction == "" {
			return pipeline.Strategy{}, fmt.Errorf("generative strategy without instruction")
		}
	default:
		return pipeline.Strategy{}, fmt.Errorf("unknown strategy kind %q", w.Kind)
	}
	return pipeline.Strategy{
		Kind:        kind,
		Selectors:   w.Selectors,
		Instruction: w.Instruction,
		RenderJS:    w.RenderJS,
	}, nil
}
