package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credit bookkeeping errors surfaced by the reservation transactions.
var (
	ErrJobExists            = errors.New("job already exists")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrReservationConfirmed = errors.New("reservation already confirmed")
)

// ReserveParams describes a reservation plus the job row it creates. The
// job-exists check, balance check, hold, and job insert happen in one
// transaction so a retried submission cannot double-charge.
type ReserveParams struct {
	UID             string
	JobID           string
	Kind            JobKind
	Cost            float64
	Bypass          bool
	SourceLanguage  string
	TargetLanguage  string
	MediaPath       string
	HasVideo        bool
	DurationSeconds float64
}

// ReserveCredits places a hold against the user's balance and creates the
// job atomically. When Bypass is set the hold is skipped but the job is
// still created, so downstream accounting stays uniform.
func (s *Store) ReserveCredits(ctx context.Context, params ReserveParams) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM jobs WHERE id = ?`, params.JobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("job %s: %w", params.JobID, ErrJobExists)
		}

		user, err := getUserTx(ctx, tx, params.UID)
		if err != nil {
			return err
		}

		if !params.Bypass {
			if params.Cost > user.Available() {
				return fmt.Errorf("need %.2f, available %.2f: %w",
					params.Cost, user.Available(), ErrInsufficientCredits)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET pending_credits = pending_credits + ?, updated_at = ? WHERE uid = ?`,
				params.Cost, timestamp, params.UID,
			); err != nil {
				return fmt.Errorf("hold credits: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                id, uid, kind, status, source_language, target_language, media_path,
                has_video, duration_seconds, credits_cost, credits_reserved,
                credits_confirmed, credits_released, reserved_at, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
			params.JobID, params.UID, string(params.Kind), string(StatusQueued),
			nullableString(params.SourceLanguage), nullableString(params.TargetLanguage),
			nullableString(params.MediaPath),
			boolToInt(params.HasVideo), params.DurationSeconds, params.Cost,
			boolToInt(!params.Bypass), timestamp, timestamp, timestamp,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, params.JobID)
}

// ConfirmResult reports what a confirmation transaction did.
type ConfirmResult struct {
	// AlreadyConfirmed is set when an earlier delivery already settled the
	// reservation; balances were not touched again.
	AlreadyConfirmed bool
	// Charged is the amount deducted from the user's balance.
	Charged float64
}

// ConfirmCredits settles a reservation after successful generation. The
// actual cost is deducted from the balance while the full original hold is
// removed from pending, so a cheaper-than-estimated job never strands
// pending credits. The usage counter advances exactly once per job.
func (s *Store) ConfirmCredits(ctx context.Context, jobID string, actualCost float64) (ConfirmResult, error) {
	ctx = ensureContext(ctx)
	var result ConfirmResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.CreditsConfirmed {
			result.AlreadyConfirmed = true
			return nil
		}
		if job.CreditsReleased {
			return fmt.Errorf("job %s reservation was released before confirmation", jobID)
		}

		timestamp := timestampNow()
		if job.CreditsReserved {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET
                    credits = credits - ?,
                    pending_credits = MAX(pending_credits - ?, 0),
                    total_voices_generated = total_voices_generated + 1,
                    updated_at = ?
                 WHERE uid = ?`,
				actualCost, job.CreditsCost, timestamp, job.UID,
			); err != nil {
				return fmt.Errorf("settle balance: %w", err)
			}
			result.Charged = actualCost
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET total_voices_generated = total_voices_generated + 1, updated_at = ? WHERE uid = ?`,
				timestamp, job.UID,
			); err != nil {
				return fmt.Errorf("advance usage counter: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET credits_confirmed = 1, updated_at = ? WHERE id = ?`,
			timestamp, jobID,
		); err != nil {
			return fmt.Errorf("mark confirmed: %w", err)
		}
		return nil
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	return result, nil
}

// ReleaseResult reports what a release transaction did.
type ReleaseResult struct {
	// Released is set when this call removed the hold. It is false for
	// missing jobs, bypassed reservations, and repeat releases.
	Released bool
	Amount   float64
}

// ReleaseCredits removes a hold after a failed or abandoned job. Missing
// jobs and repeat releases are no-ops; a confirmed reservation refuses to
// release because the charge has already settled.
func (s *Store) ReleaseCredits(ctx context.Context, jobID string) (ReleaseResult, error) {
	ctx = ensureContext(ctx)
	var result ReleaseResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := getJobTx(ctx, tx, jobID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.CreditsConfirmed {
			return fmt.Errorf("job %s: %w", jobID, ErrReservationConfirmed)
		}
		if job.CreditsReleased || !job.CreditsReserved {
			return nil
		}

		timestamp := timestampNow()
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET pending_credits = MAX(pending_credits - ?, 0), updated_at = ? WHERE uid = ?`,
			job.CreditsCost, timestamp, job.UID,
		); err != nil {
			return fmt.Errorf("release hold: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET credits_released = 1, updated_at = ? WHERE id = ?`,
			timestamp, jobID,
		); err != nil {
			return fmt.Errorf("mark released: %w", err)
		}
		result.Released = true
		result.Amount = job.CreditsCost
		return nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	return result, nil
}

// ListStaleReservations returns jobs whose holds predate the cutoff and
// were never settled or released.
func (s *Store) ListStaleReservations(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE credits_reserved = 1 AND credits_confirmed = 0 AND credits_released = 0
           AND reserved_at < ?
         ORDER BY reserved_at`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func getJobTx(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
