package costing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultWindow = 24 * time.Hour

// Breakdown keys written on every record.
const (
	BreakdownRateUSDPerMinute = "rate_usd_per_minute"
	BreakdownRuntimeMinutes   = "runtime_minutes"
)

// Config configures the accountant.
type Config struct {
	// Window is the accounting window length. Defaults to 24h.
	Window time.Duration

	// RatePerMinuteUSD prices one billed minute of runtime, in US dollars.
	RatePerMinuteUSD float64
}

// Accountant turns closed allocations into cost records.
type Accountant struct {
	source AllocationSource
	store  Store
	window time.Duration
	rate   float64
	logger *slog.Logger

	now func() time.Time
}

// NewAccountant creates an accountant over the allocation history and cost
// store.
func NewAccountant(source AllocationSource, store Store, cfg Config, logger *slog.Logger) *Accountant {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		source: source,
		store:  store,
		window: cfg.Window,
		rate:   cfg.RatePerMinuteUSD,
		logger: logger,
		now:    time.Now,
	}
}

// Window returns the accounting window length.
func (a *Accountant) Window() time.Duration {
	return a.window
}

// periodFor returns the accounting window containing the instant.
func (a *Accountant) periodFor(at time.Time) (time.Time, time.Time) {
	start := at.UTC().Truncate(a.window)
	return start, start.Add(a.window)
}

// SweepSession bills one instance for the window containing at. Returns
// nil, nil when the instance has no closed runtime in the window or the
// window was already billed.
func (a *Accountant) SweepSession(ctx context.Context, sessionID string, at time.Time) (*CostRecord, error) {
	start, end := a.periodFor(at)

	runtime, err := a.source.SumClosedAllocationSeconds(ctx, sessionID, start, end)
	if err != nil {
		return nil, fmt.Errorf("summing runtime for %s: %w", sessionID, err)
	}
	if runtime == 0 {
		return nil, nil //nolint:nilnil // nothing to bill in this window
	}

	minutes := minutesFor(runtime)
	rec := &CostRecord{
		ID:                uuid.NewString(),
		SessionInstanceID: sessionID,
		PeriodStart:       start,
		PeriodEnd:         end,
		RuntimeSeconds:    runtime,
		RuntimeMinutes:    minutes,
		CostUSD:           float64(minutes) * a.rate,
		Breakdown: map[string]float64{
			BreakdownRateUSDPerMinute: a.rate,
			BreakdownRuntimeMinutes:   float64(minutes),
		},
		CreatedAt: a.now().UTC(),
	}

	inserted, err := a.store.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("inserting cost record for %s: %w", sessionID, err)
	}
	if !inserted {
		return nil, nil //nolint:nilnil // window already billed
	}
	return rec, nil
}

// SweepWindow bills every instance with runtime closed in the window
// containing at. A failure on one instance is logged and does not stop the
// sweep; the next run converges.
func (a *Accountant) SweepWindow(ctx context.Context, at time.Time) (int, error) {
	start, end := a.periodFor(at)

	ids, err := a.source.SessionsWithClosedAllocations(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("listing instances to bill: %w", err)
	}

	var billed int
	for _, id := range ids {
		rec, err := a.SweepSession(ctx, id, at)
		if err != nil {
			a.logger.Warn("costing: sweep failed for instance",
				"session_id", id, "error", err)
			continue
		}
		if rec != nil {
			billed++
		}
	}
	return billed, nil
}

// SweepPrevious bills the window before the one containing now. Scheduled
// runs use it so windows are swept once they are complete.
func (a *Accountant) SweepPrevious(ctx context.Context) (int, error) {
	return a.SweepWindow(ctx, a.now().UTC().Add(-a.window))
}
