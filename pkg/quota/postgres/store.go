// Package postgres provides PostgreSQL storage for user quotas.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tapforge/preview-pool/pkg/quota"
)

// Store implements quota.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL quota store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves the quota row for a user. Returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, userID string) (*quota.UserQuota, error) {
	query := `
		SELECT user_id, limit_minutes, used_minutes, period_month, updated_at
		FROM user_quotas
		WHERE user_id = $1
	`
	q, err := scanQuota(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("getting quota: %w", err)
	}
	return q, nil
}

// Upsert creates or replaces a user's quota row.
func (s *Store) Upsert(ctx context.Context, q *quota.UserQuota) error {
	query := `
		INSERT INTO user_quotas (user_id, limit_minutes, used_minutes, period_month, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET limit_minutes = EXCLUDED.limit_minutes,
		    used_minutes = EXCLUDED.used_minutes,
		    period_month = EXCLUDED.period_month,
		    updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, q.UserID, q.LimitMinutes, q.UsedMinutes, q.PeriodMonth)
	if err != nil {
		return fmt.Errorf("upserting quota: %w", err)
	}
	return nil
}

// AddUsedMinutes adds usage in a single upsert. A row recorded under an
// older period restarts from the new usage; an explicit limit survives, only
// fresh rows take the default.
func (s *Store) AddUsedMinutes(ctx context.Context, userID string, minutes, defaultLimit int64, period string) (*quota.UserQuota, error) {
	query := `
		INSERT INTO user_quotas (user_id, limit_minutes, used_minutes, period_month, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET used_minutes = CASE
		      WHEN user_quotas.period_month = EXCLUDED.period_month
		      THEN user_quotas.used_minutes + EXCLUDED.used_minutes
		      ELSE EXCLUDED.used_minutes
		    END,
		    period_month = EXCLUDED.period_month,
		    updated_at = NOW()
		RETURNING user_id, limit_minutes, used_minutes, period_month, updated_at
	`
	q, err := scanQuota(s.db.QueryRowContext(ctx, query, userID, defaultLimit, minutes, period))
	if err != nil {
		return nil, fmt.Errorf("adding quota usage: %w", err)
	}
	return q, nil
}

// List returns all quota rows ordered by user ID.
func (s *Store) List(ctx context.Context) ([]*quota.UserQuota, error) {
	query := `
		SELECT user_id, limit_minutes, used_minutes, period_month, updated_at
		FROM user_quotas
		ORDER BY user_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing quotas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var quotas []*quota.UserQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quota row: %w", err)
		}
		quotas = append(quotas, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quota rows: %w", err)
	}
	return quotas, nil
}

// Close is a no-op; the database handle is owned by the platform.
func (s *Store) Close() error {
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuota(row rowScanner) (*quota.UserQuota, error) {
	var q quota.UserQuota
	err := row.Scan(&q.UserID, &q.LimitMinutes, &q.UsedMinutes, &q.PeriodMonth, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Verify interface compliance.
var _ quota.Store = (*Store)(nil)
