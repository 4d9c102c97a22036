// Package gen provides text-generation backends and failover between them.
package gen

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/pipeline"
)

// Failover tries each configured backend in order, advancing to the next on
// error or timeout. The list is a simple ordered-retry loop; it has no
// concurrency of its own.
type Failover struct {
	backends []pipeline.Generator
	timeout  time.Duration
	logger   *zap.Logger
}

// NewFailover builds a failover chain. Timeout applies per backend call.
func NewFailover(backends []pipeline.Generator, timeout time.Duration, logger *zap.Logger) *Failover {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Failover{backends: backends, timeout: timeout, logger: logger}
}

// Name identifies the chain in logs.
func (f *Failover) Name() string { return "failover" }

// Generate returns the first backend's successful completion.
func (f *Failover) Generate(ctx context.Context, prompt string) (string, error) {
	if len(f.backends) == 0 {
		return "", pipeline.ErrAllBackendsFailed
	}
	var lastErr error
	for _, backend := range f.backends {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		text, err := backend.Generate(callCtx, prompt)
		cancel()
		if err == nil {
			metrics.ObserveGenerationCall(backend.Name(), "ok")
			return text, nil
		}
		metrics.ObserveGenerationCall(backend.Name(), "error")
		f.logger.Warn("generation backend failed",
			zap.String("backend", backend.Name()),
			zap.Error(err),
		)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", pipeline.ErrAllBackendsFailed, lastErr)
}
