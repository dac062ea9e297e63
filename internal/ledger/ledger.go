package ledger

import (
	"context"
	"errors"
	"log/slog"

	"voiceloom/internal/config"
	"voiceloom/internal/logging"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// Outcome classifies the effect of an idempotent ledger operation.
type Outcome int

const (
	// OutcomeOK means this call performed the operation.
	OutcomeOK Outcome = iota
	// OutcomeAlreadyDone means an earlier delivery performed it; balances
	// were not touched again.
	OutcomeAlreadyDone
	// OutcomeRejected means the operation conflicts with settled state and
	// was refused.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Ledger enforces the credit accounting rules on top of the store's
// transactional primitives.
type Ledger struct {
	store   *store.Store
	billing config.Billing
	logger  *slog.Logger
}

// New constructs a Ledger.
func New(s *store.Store, billing config.Billing, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ledger{store: s, billing: billing, logger: logger.With(logging.String(logging.FieldComponent, "ledger"))}
}

// ReserveRequest describes a submission to hold credits for.
type ReserveRequest struct {
	UID             string
	JobID           string
	Kind            store.JobKind
	SourceLanguage  string
	TargetLanguage  string
	MediaPath       string
	HasVideo        bool
	DurationSeconds float64
	SpeakerCount    int
	Translated      bool
}

// Reserve estimates the job cost, enforces tier limits, and places the
// hold atomically with job creation. Enterprise accounts skip the hold.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (*store.Job, error) {
	if req.UID == "" || req.JobID == "" {
		return nil, services.Wrap(services.ErrValidation, "ledger", "reserve", "uid and job id are required", nil)
	}
	if req.DurationSeconds <= 0 {
		return nil, services.Wrap(services.ErrValidation, "ledger", "reserve", "duration must be positive", nil)
	}

	user, err := l.store.GetUser(ctx, req.UID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "ledger", "reserve", "unknown user", err)
		}
		return nil, services.Wrap(services.ErrDependency, "ledger", "reserve", "load user", err)
	}

	limits := store.LimitsForTier(user.Tier)
	if req.DurationSeconds > limits.MaxMediaSeconds {
		return nil, services.Wrap(services.ErrValidation, "ledger", "reserve",
			"media exceeds tier duration limit", nil)
	}
	active, err := l.store.CountActiveJobs(ctx, req.UID)
	if err != nil {
		return nil, services.Wrap(services.ErrDependency, "ledger", "reserve", "count active jobs", err)
	}
	if active >= limits.MaxConcurrentJobs {
		return nil, services.Wrap(services.ErrResourceExhausted, "ledger", "reserve",
			"tier concurrent job limit reached", nil)
	}

	cost := EstimateCost(l.billing, CostParams{
		DurationSeconds: req.DurationSeconds,
		SpeakerCount:    req.SpeakerCount,
		Translated:      req.Translated,
		HasVideo:        req.HasVideo,
	})

	job, err := l.store.ReserveCredits(ctx, store.ReserveParams{
		UID:             req.UID,
		JobID:           req.JobID,
		Kind:            req.Kind,
		Cost:            cost,
		Bypass:          limits.BypassCredits,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguage:  req.TargetLanguage,
		MediaPath:       req.MediaPath,
		HasVideo:        req.HasVideo,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobExists):
			return nil, services.Wrap(services.ErrValidation, "ledger", "reserve", "job already submitted", err)
		case errors.Is(err, store.ErrInsufficientCredits):
			return nil, services.Wrap(services.ErrResourceExhausted, "ledger", "reserve", "insufficient credits", err)
		case errors.Is(err, store.ErrNotFound):
			return nil, services.Wrap(services.ErrNotFound, "ledger", "reserve", "unknown user", err)
		default:
			return nil, services.Wrap(services.ErrDependency, "ledger", "reserve", "reserve credits", err)
		}
	}

	l.logger.Info("credits reserved",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUID, req.UID),
		logging.Float64("cost", cost),
		logging.Bool("bypass", limits.BypassCredits))
	return job, nil
}

// Confirm settles the reservation after generation succeeds. Redelivered
// confirmations report OutcomeAlreadyDone without touching balances.
func (l *Ledger) Confirm(ctx context.Context, jobID string, actualCost float64) (Outcome, error) {
	result, err := l.store.ConfirmCredits(ctx, jobID, actualCost)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return OutcomeRejected, services.Wrap(services.ErrNotFound, "ledger", "confirm", "unknown job", err)
		}
		return OutcomeRejected, services.Wrap(services.ErrConsistency, "ledger", "confirm", "settle reservation", err)
	}
	if result.AlreadyConfirmed {
		return OutcomeAlreadyDone, nil
	}
	l.logger.Info("credits confirmed",
		logging.String(logging.FieldJobID, jobID),
		logging.Float64("charged", result.Charged))
	return OutcomeOK, nil
}

// Release removes the hold after a failed or abandoned job. Missing jobs
// and repeat releases are no-ops; a settled reservation is rejected.
func (l *Ledger) Release(ctx context.Context, jobID string) (Outcome, error) {
	result, err := l.store.ReleaseCredits(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrReservationConfirmed) {
			return OutcomeRejected, services.Wrap(services.ErrConsistency, "ledger", "release",
				"reservation already settled", err)
		}
		return OutcomeRejected, services.Wrap(services.ErrDependency, "ledger", "release", "release hold", err)
	}
	if !result.Released {
		return OutcomeAlreadyDone, nil
	}
	l.logger.Info("credits released",
		logging.String(logging.FieldJobID, jobID),
		logging.Float64("amount", result.Amount))
	return OutcomeOK, nil
}

// CheckAvailable reports whether the user can afford the given cost.
// Enterprise accounts always can.
func (l *Ledger) CheckAvailable(ctx context.Context, uid string, cost float64) (bool, error) {
	user, err := l.store.GetUser(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, services.Wrap(services.ErrNotFound, "ledger", "check", "unknown user", err)
		}
		return false, services.Wrap(services.ErrDependency, "ledger", "check", "load user", err)
	}
	if store.LimitsForTier(user.Tier).BypassCredits {
		return true, nil
	}
	return cost <= user.Available(), nil
}
