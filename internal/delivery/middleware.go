package delivery

import (
	"context"
	"log/slog"

	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// Middleware converts handler errors into delivery dispositions and keeps
// the job row in sync with the queue's view of the task.
type Middleware struct {
	store  *store.Store
	ledger *ledger.Ledger
	logger *slog.Logger
	// FailureHook runs after a task fails permanently, before credits are
	// released. Used for notifications.
	FailureHook func(ctx context.Context, task Task, err error)
}

// NewMiddleware constructs the retry middleware.
func NewMiddleware(s *store.Store, l *ledger.Ledger, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Middleware{
		store:  s,
		ledger: l,
		logger: logger.With(logging.String(logging.FieldComponent, "delivery")),
	}
}

// Wrap adapts a stage handler into a disposition-returning consumer.
//
// On failure the job is moved to retrying while redeliveries remain. Once
// the error is non-retryable or attempts are exhausted the job is failed,
// the credit hold is released, and the message is dropped so the queue
// cannot resurrect a settled job.
func (m *Middleware) Wrap(stage string, handler Handler) func(ctx context.Context, task Task, info Info) Disposition {
	return func(ctx context.Context, task Task, info Info) Disposition {
		ctx = services.WithJobID(ctx, task.JobID)
		ctx = services.WithStage(ctx, stage)

		err := handler(ctx, task)
		if err == nil {
			return Ack
		}

		attrs := []logging.Attr{
			logging.String(logging.FieldJobID, task.JobID),
			logging.String(logging.FieldStage, stage),
			logging.Int(logging.FieldAttempt, info.Attempt),
			logging.Error(err),
		}

		if services.Retryable(err) && !info.Final() {
			m.logger.Warn("task failed, will retry", logging.Args(attrs...)...)
			if markErr := m.store.SetJobStatus(ctx, task.JobID, store.StatusRetrying, ""); markErr != nil {
				m.logger.Error("mark job retrying", logging.String(logging.FieldJobID, task.JobID), logging.Error(markErr))
			}
			return Retry
		}

		exhausted := services.Retryable(err) && info.Final()
		if exhausted {
			m.logger.Error("task failed, attempts exhausted", logging.Args(attrs...)...)
		} else {
			m.logger.Error("task failed permanently", logging.Args(attrs...)...)
		}

		if m.FailureHook != nil {
			m.FailureHook(ctx, task, err)
		}

		if markErr := m.failJob(ctx, task.JobID, services.Redact(err), exhausted); markErr != nil {
			m.logger.Error("mark job failed", logging.String(logging.FieldJobID, task.JobID), logging.Error(markErr))
		}

		if m.ledger != nil {
			if outcome, relErr := m.ledger.Release(ctx, task.JobID); relErr != nil {
				m.logger.Error("release credits after failure",
					logging.String(logging.FieldJobID, task.JobID),
					logging.String("outcome", outcome.String()),
					logging.Error(relErr))
			}
		}
		return Fail
	}
}

func (m *Middleware) failJob(ctx context.Context, jobID, message string, exhausted bool) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.SetFailed(message)
	job.RetriesExhausted = exhausted
	return m.store.UpdateJob(ctx, job)
}
