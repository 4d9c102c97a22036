package pipeline

import "errors"

// Sentinel errors shared across subsystems. Handlers map these onto HTTP
// status codes; everything else is a 500.
var (
	// ErrInvalidInput rejects a malformed submission before any queuing.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for status queries on unknown job IDs.
	ErrNotFound = errors.New("not found")
	// ErrStrategyExhausted means every strategy in the chain failed for a URL.
	ErrStrategyExhausted = errors.New("all strategies exhausted")
	// ErrQueueClosed is returned by queue operations after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrAllBackendsFailed means every configured generation backend errored.
	ErrAllBackendsFailed = errors.New("all generation backends failed")
)
