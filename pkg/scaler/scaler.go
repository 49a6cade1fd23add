// Package scaler runs the pool control loop: it replaces unhealthy
// instances, steers ready capacity toward each pool's target size, tears
// down surplus, and parks idle allocated sessions.
//
// Scaling decisions are made atomically inside the store; the scaler owns
// the provider calls, which never run under a store lock. A scale-up
// provisions exactly one instance per cycle, so a bad decision is bounded by
// the cycle cadence rather than amplified into a batch.
package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/provider"
)

const (
	defaultDemandWindow    = 10 * time.Minute
	defaultIdleThreshold   = 10 * time.Minute
	defaultScaleDownMargin = 1
	defaultHibernateAfter  = 5 * time.Minute
	defaultReapLimit       = 25
)

// Config tunes the control loop.
type Config struct {
	// DemandWindow bounds how far back allocations count toward the demand
	// metric. Defaults to 10m.
	DemandWindow time.Duration

	// IdleThreshold is how long a ready instance must sit unused before
	// scale-down may take it. Defaults to 10m.
	IdleThreshold time.Duration

	// ScaleDownMargin is how many ready instances above target the pool
	// tolerates before shrinking. Defaults to 1.
	ScaleDownMargin int

	// HibernateAfter is how long an allocated instance may idle before the
	// hibernate sweep parks it. Kept shorter than IdleThreshold so held
	// sessions stop billing before ready ones are torn down. Defaults to 5m.
	HibernateAfter time.Duration

	// ReapLimit bounds how many terminating instances one cycle tears down.
	// Defaults to 25.
	ReapLimit int
}

// PoolResult is the outcome of one control cycle for one pool. Err is set
// when the pool's decision or provisioning failed; sibling pools are
// unaffected.
type PoolResult struct {
	PoolID  string           `json:"pool_id"`
	Action  pool.ScaleAction `json:"action"`
	Metrics *pool.Metrics    `json:"metrics,omitempty"`

	// Provisioned is the instance created on a scale_up.
	Provisioned string `json:"provisioned,omitempty"`

	// UnhealthyTerminating lists instances flagged for teardown because
	// their last probe failed.
	UnhealthyTerminating []string `json:"unhealthy_terminating,omitempty"`

	// MarkedTerminating lists the idle surplus the decision moved to
	// terminating.
	MarkedTerminating []string `json:"marked_terminating,omitempty"`

	// Terminated lists instances fully torn down this cycle.
	Terminated []string `json:"terminated,omitempty"`

	Err error `json:"-"`
}

// Scaler drives scaling, teardown, and hibernation over the pool store.
type Scaler struct {
	store          pool.Store
	provider       provider.Adapter
	policy         pool.ScalePolicy
	hibernateAfter time.Duration
	reapLimit      int
	logger         *slog.Logger

	now func() time.Time
}

// New creates a scaler over the pool store and provider adapter.
func New(store pool.Store, adapter provider.Adapter, cfg Config, logger *slog.Logger) *Scaler {
	if cfg.DemandWindow <= 0 {
		cfg.DemandWindow = defaultDemandWindow
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = defaultIdleThreshold
	}
	if cfg.ScaleDownMargin <= 0 {
		cfg.ScaleDownMargin = defaultScaleDownMargin
	}
	if cfg.HibernateAfter <= 0 {
		cfg.HibernateAfter = defaultHibernateAfter
	}
	if cfg.ReapLimit <= 0 {
		cfg.ReapLimit = defaultReapLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scaler{
		store:    store,
		provider: adapter,
		policy: pool.ScalePolicy{
			DemandWindow:    cfg.DemandWindow,
			IdleThreshold:   cfg.IdleThreshold,
			ScaleDownMargin: cfg.ScaleDownMargin,
		},
		hibernateAfter: cfg.HibernateAfter,
		reapLimit:      cfg.ReapLimit,
		logger:         logger,
		now:            time.Now,
	}
}

// Scale runs one control cycle. Empty poolID covers every pool. One pool's
// failure is collected in its result item and does not abort sibling pools.
func (s *Scaler) Scale(ctx context.Context, poolID string) ([]PoolResult, error) {
	pools, err := s.targetPools(ctx, poolID)
	if err != nil {
		return nil, err
	}

	results := make([]PoolResult, 0, len(pools))
	for _, p := range pools {
		results = append(results, s.scalePool(ctx, p))
	}
	return results, nil
}

func (s *Scaler) targetPools(ctx context.Context, poolID string) ([]*pool.Pool, error) {
	if poolID == "" {
		pools, err := s.store.ListPools(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing pools: %w", err)
		}
		return pools, nil
	}

	p, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("loading pool %s: %w", poolID, err)
	}
	if p == nil {
		return nil, fault.NotFoundf("pool %q not found", poolID)
	}
	return []*pool.Pool{p}, nil
}

// scalePool runs the cycle for one pool: flag unhealthy instances out of the
// ready set, take the atomic scale decision, provision on scale_up, then
// reap whatever is terminating.
func (s *Scaler) scalePool(ctx context.Context, p *pool.Pool) PoolResult {
	res := PoolResult{PoolID: p.ID, Action: pool.ScaleNone}

	unhealthy, err := s.store.MarkUnhealthyTerminating(ctx, p.ID)
	if err != nil {
		s.logger.Warn("scaler: unhealthy cleanup failed", "pool_id", p.ID, "error", err)
	} else if len(unhealthy) > 0 {
		res.UnhealthyTerminating = unhealthy
		s.logger.Info("scaler: flagged unhealthy instances for teardown",
			"pool_id", p.ID, "count", len(unhealthy))
	}

	decision, err := s.store.AutoScalePool(ctx, p.ID, s.policy)
	if err != nil {
		res.Err = fmt.Errorf("scaling pool %s: %w", p.ID, err)
		return res
	}
	res.Action = decision.Action
	res.Metrics = decision.Metrics
	res.MarkedTerminating = decision.MarkedTerminating

	if decision.Action == pool.ScaleUp {
		if id, err := s.provisionReady(ctx, p); err != nil {
			res.Err = err
		} else {
			res.Provisioned = id
		}
	}

	// Teardown proceeds even when provisioning failed; the instances were
	// already marked and holding them only prolongs billing.
	res.Terminated = s.reapTerminating(ctx, p.ID)
	return res
}

// provisionReady creates one provider session and records it as a ready
// instance.
func (s *Scaler) provisionReady(ctx context.Context, p *pool.Pool) (string, error) {
	remote, err := s.provider.CreateSession(ctx, p.Platform, p.DeviceType)
	if err != nil {
		return "", fmt.Errorf("provisioning for pool %s: %w", p.ID, err)
	}

	inst := &pool.SessionInstance{
		PoolID:            p.ID,
		ProviderSessionID: remote.ID,
		PublicHandle:      remote.PublicHandle,
		Status:            pool.StatusReady,
	}
	if err := s.store.CreateSession(ctx, inst); err != nil {
		if derr := s.provider.DeleteSession(ctx, remote.ID); derr != nil {
			s.logger.Warn("scaler: remote session cleanup failed",
				"provider_session_id", remote.ID, "error", derr)
		}
		return "", fmt.Errorf("persisting provisioned session: %w", err)
	}

	s.logger.Info("scaler: provisioned ready instance",
		"pool_id", p.ID, "session_id", inst.ID)
	return inst.ID, nil
}

// reapTerminating tears down instances marked terminating. Each one is
// re-verified immediately before the provider delete. A failed delete leaves
// the instance terminating and flags it unhealthy; the next cycle retries.
func (s *Scaler) reapTerminating(ctx context.Context, poolID string) []string {
	candidates, err := s.store.ListSessions(ctx, pool.SessionFilter{
		PoolID: poolID,
		Status: pool.StatusTerminating,
		Limit:  s.reapLimit,
	})
	if err != nil {
		s.logger.Warn("scaler: listing terminating instances failed",
			"pool_id", poolID, "error", err)
		return nil
	}

	var terminated []string
	for _, inst := range candidates {
		ok, err := s.store.VerifyTerminable(ctx, inst.ID)
		if err != nil {
			s.logger.Warn("scaler: terminability re-check failed",
				"session_id", inst.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := s.provider.DeleteSession(ctx, inst.ProviderSessionID); err != nil {
			s.logger.Warn("scaler: provider delete failed",
				"session_id", inst.ID,
				"provider_session_id", inst.ProviderSessionID, "error", err)
			if herr := s.store.SetSessionHealth(ctx, inst.ID, pool.HealthUnhealthy, s.now().UTC()); herr != nil {
				s.logger.Warn("scaler: flagging failed teardown failed",
					"session_id", inst.ID, "error", herr)
			}
			continue
		}

		if err := s.store.MarkTerminated(ctx, inst.ID); err != nil {
			s.logger.Warn("scaler: finalizing termination failed",
				"session_id", inst.ID, "error", err)
			continue
		}
		terminated = append(terminated, inst.ID)
	}
	return terminated
}

// HibernateIdle parks allocated instances idle beyond the hibernate
// threshold. Their open allocations close and the instances stay claimable
// by the consumer that held them.
func (s *Scaler) HibernateIdle(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.hibernateAfter)
	count, err := s.store.HibernateIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("hibernating idle sessions: %w", err)
	}
	if count > 0 {
		s.logger.Info("scaler: hibernated idle instances", "count", count)
	}
	return count, nil
}
