// Package expiry reclaims credit holds whose jobs never finished and
// requeues jobs whose workers died mid-stage.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"voiceloom/internal/config"
	"voiceloom/internal/delivery"
	"voiceloom/internal/logging"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
)

// Sweeper periodically scans for stale reservations and stalled jobs.
type Sweeper struct {
	cfg    *config.Config
	store  *store.Store
	queue  taskqueue.Queue
	logger *slog.Logger
}

// New constructs a sweeper.
func New(cfg *config.Config, s *store.Store, queue taskqueue.Queue, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:    cfg,
		store:  s,
		queue:  queue,
		logger: logger.With(logging.String(logging.FieldComponent, "expiry")),
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.Pipeline.ExpirySweepMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Expiry is delivered through the queue so the
// release shares the pipeline's retry and idempotency machinery; stall
// recovery flips abandoned jobs back to retrying directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepReservations(ctx)
	s.recoverStalled(ctx)
}

func (s *Sweeper) sweepReservations(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.PendingCreditTimeout())
	stale, err := s.store.ListStaleReservations(ctx, cutoff)
	if err != nil {
		s.logger.Error("list stale reservations", logging.Error(err))
		return
	}
	for _, job := range stale {
		task := delivery.Task{Type: delivery.TaskExpire, JobID: job.ID, UID: job.UID}
		if err := s.queue.Publish(ctx, task); err != nil {
			s.logger.Error("enqueue expiry",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		s.logger.Info("stale reservation queued for expiry",
			logging.String(logging.FieldJobID, job.ID),
			logging.Float64("credits", job.CreditsCost))
	}
}

func (s *Sweeper) recoverStalled(ctx context.Context) {
	grace := time.Duration(s.cfg.Pipeline.HandlerGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-grace)
	recovered, err := s.store.RecoverStalled(ctx, cutoff)
	if err != nil {
		s.logger.Error("recover stalled jobs", logging.Error(err))
		return
	}
	for _, jobID := range recovered {
		s.logger.Warn("stalled job marked for retry", logging.String(logging.FieldJobID, jobID))
	}
}
