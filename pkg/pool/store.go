package pool

import (
	"context"
	"time"
)

// SessionFilter narrows ListSessions results. Zero values mean "any".
type SessionFilter struct {
	PoolID       string
	Status       Status
	HealthStatus HealthStatus
	Limit        int
	Offset       int
}

// AllocationFilter narrows ListAllocations results. Zero values mean "any".
type AllocationFilter struct {
	SessionInstanceID string
	ConsumerID        string
	OpenOnly          bool
	Limit             int
	Offset            int
}

// Store is the repository contract for pools, session instances, and
// allocations.
//
// Atomicity contract: AllocateFromPool, ReleaseToPool, CreateAllocatedSession,
// AutoScalePool, MarkUnhealthyTerminating, and HibernateIdleSessions must each
// be atomic with respect to concurrent calls touching the same pool. Two
// concurrent AllocateFromPool calls must never claim the same instance, and an
// instance must never end up with two open allocations. The PostgreSQL
// implementation uses row locks (SELECT ... FOR UPDATE SKIP LOCKED) inside a
// single transaction; the in-memory implementation serializes on a store-wide
// lock. Correctness of "no double allocation" rests entirely on this contract.
type Store interface {
	// EnsurePool inserts the pool or, when a pool for the same
	// (platform, deviceType) exists, updates its size bounds. Returns the
	// stored pool.
	EnsurePool(ctx context.Context, p *Pool) (*Pool, error)

	// GetPool retrieves a pool by ID. Returns nil, nil when absent.
	GetPool(ctx context.Context, id string) (*Pool, error)

	// FindPool retrieves the pool for (platform, deviceType).
	// Returns nil, nil when absent.
	FindPool(ctx context.Context, platform, deviceType string) (*Pool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]*Pool, error)

	// UpdatePoolSizes adjusts target/min/max for an existing pool.
	UpdatePoolSizes(ctx context.Context, id string, target, min, max int) (*Pool, error)

	// CreateSession persists a newly provisioned instance (normally
	// StatusReady, from the scaler).
	CreateSession(ctx context.Context, s *SessionInstance) error

	// CreateAllocatedSession persists a newly provisioned instance as
	// StatusAllocated together with its opening allocation, atomically.
	// Used by the provision-on-empty path.
	CreateAllocatedSession(ctx context.Context, s *SessionInstance, consumerID string, priority int) (*Claim, error)

	// GetSession retrieves an instance by ID. Returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*SessionInstance, error)

	// ListSessions returns instances matching the filter, newest first.
	ListSessions(ctx context.Context, f SessionFilter) ([]*SessionInstance, error)

	// DeleteSession removes an instance row and its allocations. It is the
	// compensating action for a failed provision and must succeed when the
	// row is already gone.
	DeleteSession(ctx context.Context, id string) error

	// AllocateFromPool atomically claims one instance for the consumer:
	// the consumer's own hibernated instance if present, otherwise the
	// oldest ready instance. The claimed instance becomes StatusAllocated
	// with a new open allocation of Type AllocationReused. Returns nil, nil
	// when nothing is claimable.
	AllocateFromPool(ctx context.Context, poolID, consumerID string, priority int) (*Claim, error)

	// ReleaseToPool closes the instance's open allocation (stamping
	// ReleasedAt, DurationSeconds, and the reason) and returns the instance
	// to StatusReady, or leaves it StatusTerminating when already marked.
	// Unknown instance: NotFound. No open allocation: idempotent no-op with
	// a nil ReleaseResult.Allocation.
	ReleaseToPool(ctx context.Context, sessionID, reason string) (*ReleaseResult, error)

	// ComputePoolMetrics reads the pool's status counts and the allocation
	// demand over the trailing window in one consistent snapshot.
	ComputePoolMetrics(ctx context.Context, poolID string, demandWindow time.Duration) (*Metrics, error)

	// AutoScalePool computes the pool's metrics and decides on a scaling
	// action in one atomic step. A ScaleUp decision reserves no rows; the
	// caller provisions exactly one instance. A ScaleDown decision has
	// already moved the surplus ready instances (oldest-idle first, idle
	// since before now minus policy.IdleThreshold) to StatusTerminating and
	// reports them in MarkedTerminating. Concurrent calls on the same pool
	// serialize, so the same instance is never marked twice.
	AutoScalePool(ctx context.Context, poolID string, policy ScalePolicy) (*ScaleDecision, error)

	// MarkUnhealthyTerminating moves unhealthy ready and hibernated
	// instances of the pool to StatusTerminating and returns their IDs.
	MarkUnhealthyTerminating(ctx context.Context, poolID string) ([]string, error)

	// MarkTerminating moves a single instance to StatusTerminating,
	// whatever its current non-terminal status.
	MarkTerminating(ctx context.Context, sessionID string) error

	// VerifyTerminable re-checks, immediately before a provider delete, that
	// the instance is StatusTerminating with no open allocation.
	VerifyTerminable(ctx context.Context, sessionID string) (bool, error)

	// MarkTerminated finalizes a termination, stamping TerminatedAt.
	MarkTerminated(ctx context.Context, sessionID string) error

	// HibernateIdleSessions parks allocated instances whose activity is
	// older than idleCutoff: each open allocation is closed with
	// ReasonHibernate and the instance becomes StatusHibernated for its
	// last consumer. Returns the number of instances hibernated.
	HibernateIdleSessions(ctx context.Context, idleCutoff time.Time) (int, error)

	// StaleSessions returns live instances (ready, allocated, hibernated)
	// whose last health check is older than the cutoff or missing,
	// stalest first, bounded by limit. Empty poolID means all pools.
	StaleSessions(ctx context.Context, poolID string, cutoff time.Time, limit int) ([]*SessionInstance, error)

	// SetSessionHealth records a probe result and check time.
	SetSessionHealth(ctx context.Context, sessionID string, hs HealthStatus, checkedAt time.Time) error

	// ListAllocations returns allocations matching the filter, newest first.
	ListAllocations(ctx context.Context, f AllocationFilter) ([]*Allocation, error)

	// SumClosedAllocationSeconds totals DurationSeconds of allocations for
	// the instance closed within [from, to).
	SumClosedAllocationSeconds(ctx context.Context, sessionID string, from, to time.Time) (int64, error)

	// SessionsWithClosedAllocations lists the distinct instances that had an
	// allocation close within [from, to).
	SessionsWithClosedAllocations(ctx context.Context, from, to time.Time) ([]string, error)

	// Close releases store resources.
	Close() error
}
