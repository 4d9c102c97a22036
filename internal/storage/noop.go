// Package storage holds provider-neutral storage helpers.
package storage

import "context"

// NoOpBlobStore discards snapshots. Used when snapshotting is disabled.
type NoOpBlobStore struct{}

// PutObject discards the data and returns an empty URI.
func (NoOpBlobStore) PutObject(_ context.Context, _ string, _ string, _ []byte) (string, error) {
	return "", nil
}
