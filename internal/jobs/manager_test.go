package jobs

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/metrics"
	"github.com/webextract/webextract/internal/pipeline"
	queuemem "github.com/webextract/webextract/internal/queue/memory"
	storemem "github.com/webextract/webextract/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newManager(t *testing.T) (*Manager, *storemem.JobStore, *queuemem.Queue) {
	t.Helper()
	store := storemem.NewJobStore()
	queue := queuemem.NewQueue()
	mgr := NewManager(store, queue, &seqID{}, fixedClock{at: time.Unix(1000, 0).UTC()}, zap.NewNop())
	return mgr, store, queue
}

func TestSubmit_SplitsContiguousBatches(t *testing.T) {
	t.Parallel()

	mgr, store, queue := newManager(t)
	ctx := context.Background()

	urls := []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example", "https://e.example"}
	job, err := mgr.Submit(ctx, SubmitRequest{
		Name:    "five urls",
		Purpose: "contacts",
		URLs:    urls,
		Config:  pipeline.JobConfig{BatchSize: 2, Priority: 3},
	})
	require.NoError(t, err)

	require.Equal(t, pipeline.JobStatusPending, job.Status)
	require.Equal(t, 5, job.TotalURLs)
	require.Equal(t, 3, queue.Depth())

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, urls, stored.TargetURLs)

	var dequeued []pipeline.Batch
	for i := 0; i < 3; i++ {
		b, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		dequeued = append(dequeued, b)
	}
	require.Equal(t, urls[0:2], dequeued[0].URLs, "batches preserve submission order")
	require.Equal(t, urls[2:4], dequeued[1].URLs)
	require.Equal(t, urls[4:5], dequeued[2].URLs)
	for _, b := range dequeued {
		require.Equal(t, job.ID, b.JobID)
		require.Equal(t, "contacts", b.Purpose)
		require.Equal(t, 3, b.Priority)
	}
}

func TestSubmit_EmptyURLsCreatesNothing(t *testing.T) {
	t.Parallel()

	mgr, _, queue := newManager(t)

	_, err := mgr.Submit(context.Background(), SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"", "  "},
	})
	require.ErrorIs(t, err, pipeline.ErrInvalidInput)
	require.Zero(t, queue.Depth(), "nothing is enqueued on invalid input")
}

func TestSubmit_BatchSizeBelowOneRejected(t *testing.T) {
	t.Parallel()

	mgr, _, queue := newManager(t)
	for _, size := range []int{-1, 0} {
		_, err := mgr.Submit(context.Background(), SubmitRequest{
			Purpose: "contacts",
			URLs:    []string{"https://a.example"},
			Config:  pipeline.JobConfig{BatchSize: size},
		})
		require.ErrorIs(t, err, pipeline.ErrInvalidInput, "batch_size %d", size)
	}
	require.Zero(t, queue.Depth())
}

func TestOnBatchStart_FlipsPendingToRunningOnce(t *testing.T) {
	t.Parallel()

	mgr, store, _ := newManager(t)
	ctx := context.Background()

	job, err := mgr.Submit(ctx, SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://a.example"},
		Config:  pipeline.JobConfig{BatchSize: 1},
	})
	require.NoError(t, err)

	mgr.OnBatchStart(ctx, job.ID)
	running, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	firstStart := *running.StartedAt
	mgr.OnBatchStart(ctx, job.ID)
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, firstStart, *again.StartedAt, "second pickup does not reset started_at")
}

func TestCancel_PurgesQueuedBatches(t *testing.T) {
	t.Parallel()

	mgr, _, queue := newManager(t)
	ctx := context.Background()

	job, err := mgr.Submit(ctx, SubmitRequest{
		Purpose: "contacts",
		URLs:    []string{"https://a.example", "https://b.example"},
		Config:  pipeline.JobConfig{BatchSize: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, queue.Depth())

	cancelled, err := mgr.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCancelled, cancelled.Status)
	require.Zero(t, queue.Depth())

	// Cancelling again is a no-op.
	again, err := mgr.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.JobStatusCancelled, again.Status)
}

func TestCancel_UnknownJob(t *testing.T) {
	t.Parallel()

	mgr, _, _ := newManager(t)
	_, err := mgr.Cancel(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
}

type seqID struct {
	n int
}

func (s *seqID) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%04d", s.n), nil
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }
