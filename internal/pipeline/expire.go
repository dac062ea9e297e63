package pipeline

import (
	"context"
	"errors"

	"voiceloom/internal/delivery"
	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/metrics"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// handleExpire reclaims the hold of a reservation whose job never
// finished inside the pending-credit window. Jobs that completed or
// already settled in the meantime are left alone.
func (p *Pipeline) handleExpire(ctx context.Context, task delivery.Task) error {
	job, err := p.store.GetJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return services.Wrap(services.ErrDependency, "expiring", "load job", "load job row", err)
	}
	if store.IsTerminal(job.Status) || job.CreditsConfirmed {
		return nil
	}

	outcome, err := p.ledger.Release(ctx, job.ID)
	if err != nil {
		// A reservation that settled between the sweep and this delivery
		// is a race, not a failure.
		return nil
	}
	if outcome == ledger.OutcomeOK {
		metrics.RecordCreditsReleased(job.CreditsCost)
	}

	if err := p.store.SetJobStatus(ctx, job.ID, store.StatusExpired, "reservation expired before completion"); err != nil {
		return services.Wrap(services.ErrDependency, "expiring", "persist", "mark job expired", err)
	}

	if notifyErr := p.notifier.NotifyReservationExpired(ctx, job.ID, job.CreditsCost); notifyErr != nil {
		p.logger.Warn("expiry notification", logging.String(logging.FieldJobID, job.ID), logging.Error(notifyErr))
	}

	p.logger.Info("reservation expired",
		logging.String(logging.FieldJobID, job.ID),
		logging.Float64("credits", job.CreditsCost))
	return nil
}
