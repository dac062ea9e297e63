package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"voiceloom/internal/config"
	"voiceloom/internal/delivery"
	"voiceloom/internal/logging"
)

// NatsQueue is the JetStream-backed task transport. A work-queue stream
// holds one message per outstanding task; the consumer's delivery counter
// doubles as the attempt number.
type NatsQueue struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	cfg     config.Queue
	logger  *slog.Logger
	subs    []*nats.Subscription
	workers *semaphore.Weighted
	ownConn bool
}

// Connect dials NATS and ensures the task stream exists.
func Connect(cfg config.Queue, logger *slog.Logger) (*NatsQueue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("voiceloom"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	queue, err := NewWithConn(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	queue.ownConn = true
	return queue, nil
}

// NewWithConn builds the queue on an existing connection, used by tests
// running against an embedded server.
func NewWithConn(conn *nats.Conn, cfg config.Queue, logger *slog.Logger) (*NatsQueue, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &NatsQueue{
		conn:    conn,
		js:      js,
		cfg:     cfg,
		logger:  logger.With(logging.String(logging.FieldComponent, "taskqueue")),
		workers: semaphore.NewWeighted(int64(workers)),
	}, nil
}

// JetStream exposes the underlying context so components sharing the
// connection, like the object-store blob backend, can reuse it.
func (q *NatsQueue) JetStream() nats.JetStreamContext {
	return q.js
}

func (q *NatsQueue) subject(taskType string) string {
	return q.cfg.SubjectPrefix + "." + taskType
}

// Publish enqueues a task. The message ID combines job, type, and chunk so
// JetStream's dedupe window suppresses double submissions.
func (q *NatsQueue) Publish(ctx context.Context, task delivery.Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	msgID := task.JobID + "/" + task.Type + "/" + strconv.Itoa(task.ChunkIndex)
	_, err = q.js.Publish(q.subject(task.Type), payload,
		nats.MsgId(msgID),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", task.Type, err)
	}
	return nil
}

// Subscribe starts a durable queue consumer over all task subjects.
// Dispatch runs on a bounded worker pool; when every worker is busy the
// callback blocks, which pushes back on delivery.
func (q *NatsQueue) Subscribe(_ context.Context, consume ConsumeFunc) error {
	sub, err := q.js.QueueSubscribe(
		q.cfg.SubjectPrefix+".>",
		"voiceloom-workers",
		func(msg *nats.Msg) {
			if err := q.workers.Acquire(context.Background(), 1); err != nil {
				return
			}
			go func() {
				defer q.workers.Release(1)
				q.dispatch(msg, consume)
			}()
		},
		nats.Durable("voiceloom-workers"),
		nats.ManualAck(),
		nats.AckWait(q.ackWait()),
		nats.MaxDeliver(q.cfg.MaxAttempts),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	q.subs = append(q.subs, sub)
	return nil
}

func (q *NatsQueue) dispatch(msg *nats.Msg, consume ConsumeFunc) {
	var task delivery.Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		q.logger.Error("drop undecodable task", logging.String("subject", msg.Subject), logging.Error(err))
		_ = msg.Term()
		return
	}

	info := delivery.Info{Attempt: 1, MaxAttempts: q.cfg.MaxAttempts}
	if meta, err := msg.Metadata(); err == nil {
		info.Attempt = int(meta.NumDelivered)
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.deadlineFor(task.Type))
	defer cancel()

	switch consume(ctx, task, info) {
	case delivery.Ack:
		if err := msg.Ack(); err != nil {
			q.logger.Error("ack task", logging.String(logging.FieldJobID, task.JobID), logging.Error(err))
		}
	case delivery.Retry:
		if err := msg.NakWithDelay(q.backoff(info.Attempt)); err != nil {
			q.logger.Error("nak task", logging.String(logging.FieldJobID, task.JobID), logging.Error(err))
		}
	case delivery.Fail:
		if err := msg.Term(); err != nil {
			q.logger.Error("terminate task", logging.String(logging.FieldJobID, task.JobID), logging.Error(err))
		}
	}
}

// deadlineFor picks the handler budget for a task. Transcription blocks
// on a polling backend and gets its own longer deadline.
func (q *NatsQueue) deadlineFor(taskType string) time.Duration {
	if taskType == delivery.TaskTranscribe && q.cfg.TranscribeDeadlineMin > 0 {
		return time.Duration(q.cfg.TranscribeDeadlineMin) * time.Minute
	}
	return time.Duration(q.cfg.DispatchDeadlineSec) * time.Second
}

// ackWait must exceed the longest handler deadline or JetStream would
// redeliver a task that is still running.
func (q *NatsQueue) ackWait() time.Duration {
	wait := time.Duration(q.cfg.DispatchDeadlineSec) * time.Second
	if transcribe := time.Duration(q.cfg.TranscribeDeadlineMin) * time.Minute; transcribe > wait {
		wait = transcribe
	}
	return wait + 30*time.Second
}

// backoff doubles per attempt up to the configured ceiling.
func (q *NatsQueue) backoff(attempt int) time.Duration {
	base := time.Duration(q.cfg.RetryBackoffSeconds) * time.Second
	maxDelay := time.Duration(q.cfg.MaxRetryBackoffSeconds) * time.Second
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Close drains subscriptions and, when the queue owns the connection,
// closes it.
func (q *NatsQueue) Close() error {
	var firstErr error
	for _, sub := range q.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if q.ownConn {
		q.conn.Close()
	}
	return firstErr
}
