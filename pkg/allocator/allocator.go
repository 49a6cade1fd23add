// Package allocator claims preview sessions for consumers and returns them
// to their pools.
//
// The claim itself is delegated to the store, which makes it atomic; the
// allocator sequences the quota gate, the provision-on-empty path, and the
// release-time billing hooks around it. Provider calls always run outside
// store transactions.
package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tapforge/preview-pool/pkg/costing"
	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/quota"
)

// QuotaGate admits or rejects an allocation for a consumer. The quota
// enforcer satisfies it.
type QuotaGate interface {
	Check(ctx context.Context, userID string) error
}

// UsageRecorder adds released minutes to a consumer's monthly usage. The
// quota enforcer satisfies it.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, minutes int64) error
}

// Sweeper bills one instance's current accounting window. The cost
// accountant satisfies it.
type Sweeper interface {
	SweepSession(ctx context.Context, sessionID string, at time.Time) (*costing.CostRecord, error)
}

// Config wires the allocator's optional collaborators. A nil gate admits
// every consumer; nil usage/sweeper hooks skip release-time accounting.
type Config struct {
	Quota   QuotaGate
	Usage   UsageRecorder
	Sweeper Sweeper
}

// AllocateResult is the consumer-facing outcome of a successful allocation.
type AllocateResult struct {
	SessionID  string              `json:"session_id"`
	SessionURL string              `json:"session_url"`
	PublicKey  string              `json:"public_key"`
	Type       pool.AllocationType `json:"allocation_type"`
}

// Allocator claims and releases pool sessions.
type Allocator struct {
	store    pool.Store
	provider provider.Adapter
	quota    QuotaGate
	usage    UsageRecorder
	sweeper  Sweeper
	logger   *slog.Logger

	now func() time.Time
}

// New creates an allocator over the pool store and provider adapter.
func New(store pool.Store, adapter provider.Adapter, cfg Config, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		store:    store,
		provider: adapter,
		quota:    cfg.Quota,
		usage:    cfg.Usage,
		sweeper:  cfg.Sweeper,
		logger:   logger,
		now:      time.Now,
	}
}

// Allocate claims one session for the consumer: the consumer's own
// hibernated instance first, then the oldest ready instance, and finally a
// freshly provisioned one when the pool is empty. The quota gate runs before
// any state change.
func (a *Allocator) Allocate(ctx context.Context, consumerID, platform, deviceType string, priority int) (*AllocateResult, error) {
	if consumerID == "" {
		return nil, fault.Validationf("consumerId is required")
	}
	if platform == "" {
		return nil, fault.Validationf("platform is required")
	}
	if deviceType == "" {
		return nil, fault.Validationf("deviceType is required")
	}

	p, err := a.store.FindPool(ctx, platform, deviceType)
	if err != nil {
		return nil, fmt.Errorf("finding pool: %w", err)
	}
	if p == nil {
		return nil, fault.NotFoundf("no pool for platform %q device type %q", platform, deviceType)
	}

	if a.quota != nil {
		if err := a.quota.Check(ctx, consumerID); err != nil {
			return nil, err
		}
	}

	claim, err := a.store.AllocateFromPool(ctx, p.ID, consumerID, priority)
	if err != nil {
		return nil, fmt.Errorf("claiming from pool %s: %w", p.ID, err)
	}
	if claim != nil {
		return a.result(claim), nil
	}
	return a.provision(ctx, p, consumerID, priority)
}

// provision creates a session at the provider and persists it directly as
// allocated. The provider call runs before any store write; a failed store
// write is compensated so neither side keeps an orphan.
func (a *Allocator) provision(ctx context.Context, p *pool.Pool, consumerID string, priority int) (*AllocateResult, error) {
	remote, err := a.provider.CreateSession(ctx, p.Platform, p.DeviceType)
	if err != nil {
		return nil, err
	}

	inst := &pool.SessionInstance{
		PoolID:            p.ID,
		ProviderSessionID: remote.ID,
		PublicHandle:      remote.PublicHandle,
	}
	claim, err := a.store.CreateAllocatedSession(ctx, inst, consumerID, priority)
	if err != nil {
		if delErr := a.store.DeleteSession(ctx, inst.ID); delErr != nil {
			a.logger.Warn("allocator: orphan row cleanup failed",
				"session_id", inst.ID, "error", delErr)
		}
		if delErr := a.provider.DeleteSession(ctx, remote.ID); delErr != nil {
			a.logger.Warn("allocator: remote session cleanup failed",
				"provider_session_id", remote.ID, "error", delErr)
		}
		return nil, fmt.Errorf("persisting provisioned session: %w", err)
	}
	return a.result(claim), nil
}

// Release closes the session's open allocation and returns the instance to
// the ready set (or leaves it terminating when already marked). Releasing a
// session with no open allocation succeeds without state change. Usage and
// cost accounting run after the release commits; their failures are logged,
// not surfaced, since the claim is already closed.
func (a *Allocator) Release(ctx context.Context, sessionID, reason string) (*pool.ReleaseResult, error) {
	if sessionID == "" {
		return nil, fault.Validationf("sessionId is required")
	}
	if reason == "" {
		reason = pool.ReasonRelease
	}

	result, err := a.store.ReleaseToPool(ctx, sessionID, reason)
	if err != nil {
		return nil, err
	}
	if result.Allocation == nil {
		return result, nil
	}

	if a.usage != nil {
		minutes := quota.MinutesFor(result.Allocation.DurationSeconds)
		if err := a.usage.RecordUsage(ctx, result.Allocation.ConsumerID, minutes); err != nil {
			a.logger.Warn("allocator: usage recording failed",
				"session_id", sessionID, "consumer_id", result.Allocation.ConsumerID, "error", err)
		}
	}
	if a.sweeper != nil {
		if _, err := a.sweeper.SweepSession(ctx, sessionID, a.now().UTC()); err != nil {
			a.logger.Warn("allocator: cost sweep failed",
				"session_id", sessionID, "error", err)
		}
	}
	return result, nil
}

func (a *Allocator) result(claim *pool.Claim) *AllocateResult {
	return &AllocateResult{
		SessionID:  claim.Session.ID,
		SessionURL: a.provider.SessionURL(claim.Session.PublicHandle),
		PublicKey:  claim.Session.PublicHandle,
		Type:       claim.Allocation.Type,
	}
}
