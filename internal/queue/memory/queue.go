// Package memory provides the in-process priority queue for batches.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webextract/webextract/internal/pipeline"
)

const defaultBackoff = 50 * time.Millisecond

// Queue is a priority queue with context-aware operations. Higher numeric
// priority dequeues first; ties break FIFO by submission sequence. Pop is
// atomic: no two workers ever receive the same batch.
type Queue struct {
	mu      sync.Mutex
	items   batchHeap
	seq     uint64
	closed  bool
	notify  chan struct{}
	backoff time.Duration
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		notify:  make(chan struct{}, 1),
		backoff: defaultBackoff,
	}
}

// Enqueue pushes a batch or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, batch pipeline.Batch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return pipeline.ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.items, &queued{batch: batch, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the highest-priority batch, blocking with a brief backoff
// sleep while the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.Batch, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			entry := heap.Pop(&q.items).(*queued)
			q.mu.Unlock()
			return entry.batch, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return pipeline.Batch{}, pipeline.ErrQueueClosed
		}

		timer := time.NewTimer(q.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pipeline.Batch{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// PurgeJob removes all queued batches belonging to a job. In-flight batches
// are unaffected (best-effort cancellation).
func (q *Queue) PurgeJob(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, entry := range q.items {
		if entry.batch.JobID == jobID {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	q.items = kept
	heap.Init(&q.items)
	return removed
}

// Depth returns the number of waiting batches.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close wakes any blocked consumers and rejects further operations.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type queued struct {
	batch pipeline.Batch
	seq   uint64
}

type batchHeap []*queued

func (h batchHeap) Len() int { return len(h) }

func (h batchHeap) Less(i, j int) bool {
	if h[i].batch.Priority != h[j].batch.Priority {
		return h[i].batch.Priority > h[j].batch.Priority
	}
	return h[i].seq < h[j].seq
}

func (h batchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *batchHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *batchHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
