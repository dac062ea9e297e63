package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = "uid, tier, credits, pending_credits, total_voices_generated, created_at, updated_at"

func scanUser(scanner interface{ Scan(dest ...any) error }) (*User, error) {
	var (
		uid        string
		tier       string
		credits    float64
		pending    float64
		generated  int64
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&uid, &tier, &credits, &pending, &generated, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	user := &User{
		UID:                  uid,
		Tier:                 Tier(tier),
		Credits:              credits,
		PendingCredits:       pending,
		TotalVoicesGenerated: generated,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		user.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		user.UpdatedAt = updated
	}
	return user, nil
}

// CreateUser inserts a new account with an initial credit grant.
func (s *Store) CreateUser(ctx context.Context, uid string, tier Tier, credits float64) (*User, error) {
	ctx = ensureContext(ctx)
	now := timestampNow()
	_, err := s.execWithRetry(ctx,
		`INSERT INTO users (uid, tier, credits, pending_credits, total_voices_generated, created_at, updated_at)
         VALUES (?, ?, ?, 0, 0, ?, ?)`,
		uid, string(tier), credits, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, uid)
}

// GetUser fetches a user by identifier. Returns ErrNotFound when missing.
func (s *Store) GetUser(ctx context.Context, uid string) (*User, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = ?`, uid)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// AddCredits increments a user's balance, typically after a purchase.
func (s *Store) AddCredits(ctx context.Context, uid string, amount float64) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = ? WHERE uid = ?`,
		amount, timestampNow(), uid,
	)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add credits rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	return nil
}

// SetTier changes a user's subscription tier.
func (s *Store) SetTier(ctx context.Context, uid string, tier Tier) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE users SET tier = ?, updated_at = ? WHERE uid = ?`,
		string(tier), timestampNow(), uid,
	)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set tier rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	return nil
}

func getUserTx(ctx context.Context, tx *sql.Tx, uid string) (*User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = ?`, uid)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
