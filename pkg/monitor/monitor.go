// Package monitor probes live sessions against the provider and records
// their health.
//
// Probing is batched: each sweep selects instances whose last check is older
// than the staleness window, stalest first, bounded by a batch limit so a
// large fleet is covered across successive sweeps. One instance's probe or
// write failure is collected into its result item and never aborts the
// batch.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/provider"
)

const (
	defaultStalenessWindow = 5 * time.Minute
	defaultBatchLimit      = 50
	defaultProbeTimeout    = 10 * time.Second
)

// Config tunes the monitor.
type Config struct {
	// StalenessWindow is how old a health check may be before the
	// instance is probed again. Defaults to 5m.
	StalenessWindow time.Duration

	// BatchLimit bounds how many instances one sweep probes. Defaults
	// to 50.
	BatchLimit int

	// ProbeTimeout bounds each provider status call. Defaults to 10s.
	ProbeTimeout time.Duration
}

// Result is one probed instance's outcome. Err is set when the probe or the
// health write failed; the instance still counts toward the batch.
type Result struct {
	SessionID    string            `json:"session_id"`
	HealthStatus pool.HealthStatus `json:"health_status"`
	Err          error             `json:"-"`
}

// Monitor sweeps stale sessions and records probe outcomes.
type Monitor struct {
	store        pool.Store
	provider     provider.Adapter
	window       time.Duration
	limit        int
	probeTimeout time.Duration
	logger       *slog.Logger

	now func() time.Time
}

// New creates a monitor over the pool store and provider adapter.
func New(store pool.Store, adapter provider.Adapter, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = defaultStalenessWindow
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:        store,
		provider:     adapter,
		window:       cfg.StalenessWindow,
		limit:        cfg.BatchLimit,
		probeTimeout: cfg.ProbeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// HealthCheck probes live instances whose last check is older than the
// staleness window. Empty poolID sweeps all pools. Partial results are
// returned even when some probes fail.
func (m *Monitor) HealthCheck(ctx context.Context, poolID string) ([]Result, error) {
	cutoff := m.now().UTC().Add(-m.window)
	stale, err := m.store.StaleSessions(ctx, poolID, cutoff, m.limit)
	if err != nil {
		return nil, fmt.Errorf("selecting stale sessions: %w", err)
	}

	results := make([]Result, 0, len(stale))
	for _, inst := range stale {
		results = append(results, m.probe(ctx, inst))
	}
	return results, nil
}

// probe checks one instance and records the outcome. The health row is
// written for failed probes too, so a broken instance is not re-probed
// until the window passes again.
func (m *Monitor) probe(ctx context.Context, inst *pool.SessionInstance) Result {
	res := Result{SessionID: inst.ID}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	status, err := m.provider.SessionStatus(probeCtx, inst.ProviderSessionID)
	cancel()

	hs := pool.HealthHealthy
	if err != nil {
		hs = pool.HealthUnhealthy
		res.Err = err
	} else if status != provider.StatusOK {
		hs = pool.HealthUnhealthy
	}
	res.HealthStatus = hs

	if err := m.store.SetSessionHealth(ctx, inst.ID, hs, m.now().UTC()); err != nil {
		if res.Err == nil {
			res.Err = fmt.Errorf("recording health for %s: %w", inst.ID, err)
		}
		m.logger.Warn("monitor: failed to record health",
			"session_id", inst.ID, "error", err)
	}
	return res
}
