package taskqueue

import (
	"context"
	"strconv"
	"sync"

	"voiceloom/internal/delivery"
)

// MemoryQueue is an in-process Queue used by tests and the CLI's dry-run
// paths. It mirrors the transport contract: at-least-once delivery with a
// per-message attempt counter and a publish dedupe keyed like JetStream's
// message ID.
type MemoryQueue struct {
	mu          sync.Mutex
	maxAttempts int
	pending     []memoryMessage
	seen        map[string]struct{}
	consume     ConsumeFunc
	closed      bool
}

type memoryMessage struct {
	task     delivery.Task
	attempts int
}

// NewMemory builds an in-process queue with the given attempt budget.
func NewMemory(maxAttempts int) *MemoryQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MemoryQueue{
		maxAttempts: maxAttempts,
		seen:        make(map[string]struct{}),
	}
}

// Publish enqueues a task, suppressing duplicates of the same job, type,
// and chunk.
func (q *MemoryQueue) Publish(_ context.Context, task delivery.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return context.Canceled
	}
	key := task.JobID + "/" + task.Type + "/" + strconv.Itoa(task.ChunkIndex)
	if _, dup := q.seen[key]; dup {
		return nil
	}
	q.seen[key] = struct{}{}
	q.pending = append(q.pending, memoryMessage{task: task})
	return nil
}

// Subscribe registers the consumer. Delivery is driven by Drain.
func (q *MemoryQueue) Subscribe(_ context.Context, consume ConsumeFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consume = consume
	return nil
}

// Drain synchronously delivers queued tasks until the queue is empty,
// honoring retry dispositions up to the attempt budget. Returns the number
// of deliveries performed.
func (q *MemoryQueue) Drain(ctx context.Context) int {
	deliveries := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.consume == nil {
			q.mu.Unlock()
			return deliveries
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		consume := q.consume
		q.mu.Unlock()

		msg.attempts++
		deliveries++
		info := delivery.Info{Attempt: msg.attempts, MaxAttempts: q.maxAttempts}
		if consume(ctx, msg.task, info) == delivery.Retry && msg.attempts < q.maxAttempts {
			q.mu.Lock()
			q.pending = append(q.pending, msg)
			q.mu.Unlock()
		}
	}
}

// Close stops accepting publishes.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
