package taskqueue

import (
	"context"

	"voiceloom/internal/delivery"
)

// ConsumeFunc processes one delivered task and tells the transport what to
// do with the message.
type ConsumeFunc func(ctx context.Context, task delivery.Task, info delivery.Info) delivery.Disposition

// Queue is the task transport contract. Delivery is at least once: a task
// may arrive more than once and consumers must tolerate duplicates.
type Queue interface {
	// Publish enqueues a task. Publishing the same task (type, job,
	// chunk) twice within the dedupe window is a no-op.
	Publish(ctx context.Context, task delivery.Task) error
	// Subscribe registers the consumer and starts delivery. It returns
	// once the subscription is established; delivery continues until the
	// queue is closed.
	Subscribe(ctx context.Context, consume ConsumeFunc) error
	Close() error
}
