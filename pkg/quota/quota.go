// Package quota enforces monthly per-user session-minute budgets.
//
// Enforcement is advisory: the check reads current usage and the allocation
// proceeds outside any lock, so concurrent allocations can briefly overshoot
// the budget. Usage converges as allocations close and the next check sees
// the recorded minutes.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/tapforge/preview-pool/pkg/fault"
)

// periodLayout formats a calendar month in UTC, e.g. "2026-08".
const periodLayout = "2006-01"

// UserQuota is a user's budget and usage for one calendar month.
type UserQuota struct {
	UserID string `json:"user_id"`

	// LimitMinutes is the monthly budget. Zero or negative means unmetered.
	LimitMinutes int64 `json:"limit_minutes"`

	// UsedMinutes is the usage recorded within PeriodMonth.
	UsedMinutes int64 `json:"used_minutes"`

	// PeriodMonth is the month the usage belongs to, in "2006-01" form.
	// Usage from an older month counts as zero.
	PeriodMonth string `json:"period_month"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists user quotas.
type Store interface {
	// Get retrieves the quota row for a user. Returns nil, nil when the user
	// has no row yet.
	Get(ctx context.Context, userID string) (*UserQuota, error)

	// Upsert creates or replaces a user's quota row.
	Upsert(ctx context.Context, q *UserQuota) error

	// AddUsedMinutes atomically adds usage for the period, creating the row
	// with defaultLimit when absent and resetting usage recorded under an
	// older period.
	AddUsedMinutes(ctx context.Context, userID string, minutes, defaultLimit int64, period string) (*UserQuota, error)

	// List returns all quota rows.
	List(ctx context.Context) ([]*UserQuota, error)

	// Close releases store resources.
	Close() error
}

// CurrentPeriod returns the period key for the given instant.
func CurrentPeriod(now time.Time) string {
	return now.UTC().Format(periodLayout)
}

// NextPeriodStart returns the first instant of the following month in UTC.
func NextPeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// MinutesFor converts an allocation runtime to billed minutes, rounding up.
// Any nonzero runtime bills at least one minute.
func MinutesFor(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

// Config configures the enforcer.
type Config struct {
	// Enabled turns quota checks on. When false the enforcer admits
	// everything and records nothing.
	Enabled bool

	// DefaultLimitMinutes is the budget for users without an explicit row.
	DefaultLimitMinutes int64
}

// Enforcer applies the monthly budget before allocations and records usage
// after they close.
type Enforcer struct {
	store        Store
	defaultLimit int64
	enabled      bool

	now func() time.Time
}

// NewEnforcer creates a quota enforcer over the store.
func NewEnforcer(store Store, cfg Config) *Enforcer {
	return &Enforcer{
		store:        store,
		defaultLimit: cfg.DefaultLimitMinutes,
		enabled:      cfg.Enabled && store != nil,
		now:          time.Now,
	}
}

// Enabled reports whether quota checks are active.
func (e *Enforcer) Enabled() bool {
	return e.enabled
}

// Check admits or rejects an allocation for the user. Rejection carries a
// retry-after hint pointing at the next monthly reset.
func (e *Enforcer) Check(ctx context.Context, userID string) error {
	if !e.enabled {
		return nil
	}

	q, err := e.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("reading quota: %w", err)
	}

	now := e.now()
	period := CurrentPeriod(now)

	limit := e.defaultLimit
	var used int64
	if q != nil {
		limit = q.LimitMinutes
		if q.PeriodMonth == period {
			used = q.UsedMinutes
		}
	}

	if limit <= 0 {
		return nil
	}
	if used >= limit {
		return fault.QuotaExceeded(used, limit, NextPeriodStart(now).Sub(now))
	}
	return nil
}

// RecordUsage adds billed minutes to the user's current period.
func (e *Enforcer) RecordUsage(ctx context.Context, userID string, minutes int64) error {
	if !e.enabled || minutes <= 0 {
		return nil
	}

	_, err := e.store.AddUsedMinutes(ctx, userID, minutes, e.defaultLimit, CurrentPeriod(e.now()))
	if err != nil {
		return fmt.Errorf("recording quota usage: %w", err)
	}
	return nil
}
