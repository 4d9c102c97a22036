// Package patterns implements the similarity store for learned extraction
// patterns.
package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/pipeline"
)

const defaultScanLimit = 512

// RedisStore keeps learned patterns in per-purpose Redis lists, newest first.
// Writes are append-only; nearest-neighbor queries scan the most recent
// entries and rank them by cosine similarity client-side.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	scanLimit int64
}

// NewRedisStore constructs a RedisStore and verifies connectivity.
func NewRedisStore(ctx context.Context, client *redis.Client, keyPrefix string, scanLimit int64) (*RedisStore, error) {
	if keyPrefix == "" {
		keyPrefix = "patterns"
	}
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, scanLimit: scanLimit}, nil
}

func (s *RedisStore) key(purpose string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, purpose)
}

// Append pushes a pattern onto the purpose's history.
func (s *RedisStore) Append(ctx context.Context, pattern pipeline.LearnedPattern) error {
	payload, err := json.Marshal(pattern)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	if err := s.client.LPush(ctx, s.key(pattern.Purpose), payload).Err(); err != nil {
		return fmt.Errorf("lpush pattern: %w", err)
	}
	return nil
}

// Nearest scans the purpose's recent patterns and returns the top-k cosine
// matches at or above the success-rate floor.
func (s *RedisStore) Nearest(
	ctx context.Context,
	vector []float32,
	purpose string,
	minSuccessRate float64,
	k int,
) ([]pipeline.PatternMatch, error) {
	raw, err := s.client.LRange(ctx, s.key(purpose), 0, s.scanLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange patterns: %w", err)
	}

	matches := make([]pipeline.PatternMatch, 0, len(raw))
	for _, entry := range raw {
		var pattern pipeline.LearnedPattern
		if err := json.Unmarshal([]byte(entry), &pattern); err != nil {
			// Skip malformed entries; the history is append-only and old
			// formats may linger.
			continue
		}
		if pattern.SuccessRate < minSuccessRate {
			continue
		}
		matches = append(matches, pipeline.PatternMatch{
			Pattern: pattern,
			Score:   learning.Cosine(vector, pattern.Vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
