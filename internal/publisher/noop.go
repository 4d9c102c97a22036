package publisher

import "context"

// NoOp discards all events.
type NoOp struct{}

// NewNoOp constructs a NoOp publisher.
func NewNoOp() *NoOp { return &NoOp{} }

// Publish does nothing.
func (NoOp) Publish(context.Context, string, any) (string, error) { return "", nil }
