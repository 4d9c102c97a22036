// Package executor runs a strategy chain against a URL until one strategy
// yields fields or the chain is exhausted.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

// Config tunes per-attempt behavior.
type Config struct {
	AttemptTimeout time.Duration
	SampleBytes    int
}

// Executor implements pipeline.Executor.
type Executor struct {
	fetcher   pipeline.Fetcher
	generator pipeline.Generator
	cfg       Config
	logger    *zap.Logger
}

// New builds an Executor. generator may be nil; generative strategies then
// fail and the chain advances.
func New(fetcher pipeline.Fetcher, generator pipeline.Generator, cfg Config, logger *zap.Logger) *Executor {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = 8192
	}
	return &Executor{
		fetcher:   fetcher,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute tries each strategy in the recommendation's chain. A timeout or
// error on one attempt advances to the next fallback; only when every
// strategy has failed does Execute return ErrStrategyExhausted.
func (e *Executor) Execute(ctx context.Context, url string, rec pipeline.StrategyRecommendation) (pipeline.ExtractionOutcome, error) {
	start := time.Now()
	attempts := 0
	var lastErr error

	// Fetch responses are cached per render mode so fallbacks that share a
	// mode do not refetch.
	pages := map[bool]pipeline.FetchResponse{}

	for _, strat := range rec.Chain() {
		if strat.Empty() {
			continue
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		fields, resp, err := e.attempt(attemptCtx, url, strat, pages)
		cancel()

		if err != nil {
			lastErr = err
			e.logger.Debug("strategy attempt failed",
				zap.String("url", url),
				zap.String("strategy", strat.Label()),
				zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		return pipeline.ExtractionOutcome{
			Fields:       fields,
			StrategyUsed: strat,
			Attempts:     attempts,
			Duration:     time.Since(start),
			RawHTML:      resp.Body,
			FinalURL:     resp.URL,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("empty strategy chain")
	}
	return pipeline.ExtractionOutcome{
			Attempts: attempts,
			Duration: time.Since(start),
		}, fmt.Errorf("execute %s after %d attempts: %w: %w",
			url, attempts, pipeline.ErrStrategyExhausted, lastErr)
}

func (e *Executor) attempt(ctx context.Context, url string, strat pipeline.Strategy, pages map[bool]pipeline.FetchResponse) (map[string]any, pipeline.FetchResponse, error) {
	resp, ok := pages[strat.RenderJS]
	if !ok {
		var err error
		resp, err = e.fetcher.Fetch(ctx, pipeline.FetchRequest{
			URL:      url,
			RenderJS: strat.RenderJS,
			Timeout:  e.cfg.AttemptTimeout,
		})
		if err != nil {
			return nil, pipeline.FetchResponse{}, fmt.Errorf("fetch: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, pipeline.FetchResponse{}, fmt.Errorf("fetch: status %d", resp.StatusCode)
		}
		pages[strat.RenderJS] = resp
	}

	var (
		fields map[string]any
		err    error
	)
	switch strat.Kind {
	case pipeline.StrategySelector:
		fields, err = extractSelectors(resp.Body, strat.Selectors)
	case pipeline.StrategyStructured:
		fields, err = extractStructured(resp.Body)
	case pipeline.StrategyGenerative:
		fields, err = e.extractGenerative(ctx, resp.Body, strat.Instruction)
	default:
		err = fmt.Errorf("unknown strategy kind %q", strat.Kind)
	}
	if err != nil {
		return nil, resp, err
	}
	if len(fields) == 0 {
		return nil, resp, errors.New("no fields extracted")
	}
	return fields, resp, nil
}
