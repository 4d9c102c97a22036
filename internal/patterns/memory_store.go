package patterns

import (
	"context"
	"sort"
	"sync"

	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/pipeline"
)

// MemoryStore is the in-process pattern store for local development and
// tests.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns []pipeline.LearnedPattern
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores the pattern.
func (s *MemoryStore) Append(_ context.Context, pattern pipeline.LearnedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, pattern)
	return nil
}

// Len reports the number of stored patterns (test helper).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Nearest ranks stored patterns for a purpose by cosine similarity.
func (s *MemoryStore) Nearest(
	_ context.Context,
	vector []float32,
	purpose string,
	minSuccessRate float64,
	k int,
) ([]pipeline.PatternMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []pipeline.PatternMatch
	for _, pattern := range s.patterns {
		if pattern.Purpose != purpose || pattern.SuccessRate < minSuccessRate {
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
