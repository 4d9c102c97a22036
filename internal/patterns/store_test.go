package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/webextract/webextract/internal/learning"
	"github.com/webextract/webextract/internal/pipeline"
)

func patternFor(id, purpose string, rate float64, summary string) pipeline.LearnedPattern {
	e := learning.NewEmbedder()
	return pipeline.LearnedPattern{
		ID:          id,
		Summary:     summary,
		Vector:      e.Embed(summary),
		Purpose:     purpose,
		WebsiteType: pipeline.SiteECommerce,
		Strategy:    pipeline.Strategy{Kind: pipeline.StrategySelector},
		SuccessRate: rate,
		ObservedAt:  time.Unix(100, 0).UTC(),
	}
}

func TestRedisStore_AppendAndNearest(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	store, err := NewRedisStore(ctx, client, "patterns", 100)
	require.NoError(t, err)

	require.NoError(t, store.Append(ctx, patternFor("good", "pricing", 0.9, "type e_commerce purpose pricing strategy selector")))
	require.NoError(t, store.Append(ctx, patternFor("weak", "pricing", 0.3, "type e_commerce purpose pricing strategy selector")))
	require.NoError(t, store.Append(ctx, patternFor("other", "contacts", 0.95, "type directory purpose contacts strategy selector")))

	query := learning.NewEmbedder().Embed("type e_commerce purpose pricing strategy selector")
	matches, err := store.Nearest(ctx, query, "pricing", 0.7, 5)
	require.NoError(t, err)

	require.Len(t, matches, 1, "low success rate and other purposes are filtered out")
	require.Equal(t, "good", matches[0].Pattern.ID)
	require.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestRedisStore_KeepsFullHistory(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	store, err := NewRedisStore(ctx, client, "patterns", 100)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append(ctx, patternFor("p", "pricing", 0.8, "same summary every time")))
	}

	query := learning.NewEmbedder().Embed("same summary every time")
	matches, err := store.Nearest(ctx, query, "pricing", 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 10, "entries are never overwritten")
}

func TestMemoryStore_NearestRanksBySimilarity(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, patternFor("exact", "pricing", 0.9, "type e_commerce purpose pricing strategy selector complexity low")))
	require.NoError(t, store.Append(ctx, patternFor("far", "pricing", 0.9, "completely different words entirely")))

	query := learning.NewEmbedder().Embed("type e_commerce purpose pricing strategy selector complexity low")
	matches, err := store.Nearest(ctx, query, "pricing", 0.7, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "exact", matches[0].Pattern.ID)
	require.Greater(t, matches[0].Score, matches[1].Score)
}
