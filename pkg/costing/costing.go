// Package costing derives billing records from closed allocations.
//
// Runtime is attributed to fixed accounting windows. A record is identified
// by (session instance, period start, period end), so sweeping the same
// window twice never double-bills: the second insert is a no-op.
package costing

import (
	"context"
	"time"
)

// CostRecord is the billed runtime of one session instance within one
// accounting window.
type CostRecord struct {
	ID                string    `json:"id"`
	SessionInstanceID string    `json:"session_instance_id"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`

	// RuntimeSeconds is the summed duration of allocations closed in the
	// window.
	RuntimeSeconds int64 `json:"runtime_seconds"`

	// RuntimeMinutes is the runtime rounded up to whole minutes; the unit
	// the rate is applied to.
	RuntimeMinutes int64 `json:"runtime_minutes"`

	// CostUSD is RuntimeMinutes priced at the provider's per-minute rate.
	CostUSD float64 `json:"cost_usd"`

	// Breakdown records the factors behind CostUSD, e.g. the rate and the
	// minute count, so a record stays auditable after rate changes.
	Breakdown map[string]float64 `json:"breakdown,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows cost record listings.
type Filter struct {
	SessionInstanceID string
	From              time.Time
	To                time.Time
	Limit             int
	Offset            int
}

// Totals aggregates cost records over a range.
type Totals struct {
	Records        int     `json:"records"`
	RuntimeSeconds int64   `json:"runtime_seconds"`
	RuntimeMinutes int64   `json:"runtime_minutes"`
	CostUSD        float64 `json:"cost_usd"`
}

// Store persists cost records.
type Store interface {
	// Insert writes a record. It reports false when a record for the same
	// (session instance, period) already exists; nothing is modified then.
	Insert(ctx context.Context, rec *CostRecord) (bool, error)

	// List returns records matching the filter, newest period first.
	List(ctx context.Context, f Filter) ([]*CostRecord, error)

	// Totals aggregates records whose period overlaps [from, to).
	Totals(ctx context.Context, from, to time.Time) (*Totals, error)

	// Close releases store resources.
	Close() error
}

// AllocationSource exposes the closed-allocation history the accountant
// reads. The pool store satisfies it.
type AllocationSource interface {
	SumClosedAllocationSeconds(ctx context.Context, sessionID string, from, to time.Time) (int64, error)
	SessionsWithClosedAllocations(ctx context.Context, from, to time.Time) ([]string, error)
}

// minutesFor converts runtime to billed minutes, rounding up.
func minutesFor(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
