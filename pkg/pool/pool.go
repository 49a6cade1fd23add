// Package pool defines the preview-session pool domain: configured pools of
// interchangeable device-emulation sessions, the lifecycle of each session
// instance, and the allocation records that claim them. The Store interface
// is the repository contract every implementation must honor, in particular
// the atomicity of the claim and release operations.
package pool

import "time"

// Status is the lifecycle state of a SessionInstance.
type Status string

const (
	// StatusReady means the instance is provisioned and claimable.
	StatusReady Status = "ready"

	// StatusAllocated means exactly one consumer holds an open allocation.
	StatusAllocated Status = "allocated"

	// StatusHibernated means an idle instance was parked for its last
	// consumer. It is claimable only by that consumer.
	StatusHibernated Status = "hibernated"

	// StatusTerminating means the instance is marked for termination and is
	// no longer claimable. The provider session still exists.
	StatusTerminating Status = "terminating"

	// StatusTerminated is terminal: the provider session is gone.
	StatusTerminated Status = "terminated"
)

// HealthStatus is the probe result axis, orthogonal to Status.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// AllocationType records how a claim was satisfied.
type AllocationType string

const (
	// AllocationNew means the claim provisioned a fresh provider session.
	AllocationNew AllocationType = "new"

	// AllocationReused means the claim took an existing ready or hibernated
	// instance.
	AllocationReused AllocationType = "reused"
)

// ScaleAction is the outcome of one scaling decision for one pool.
type ScaleAction string

const (
	ScaleUp   ScaleAction = "scale_up"
	ScaleDown ScaleAction = "scale_down"
	ScaleNone ScaleAction = "no_change"
)

// ScalePolicy tunes how Store.AutoScalePool decides on an action.
type ScalePolicy struct {
	// DemandWindow bounds how far back allocations count toward demand.
	DemandWindow time.Duration

	// IdleThreshold is how long a ready instance must sit unused before it
	// becomes a scale-down candidate.
	IdleThreshold time.Duration

	// ScaleDownMargin is how many ready instances above the target size the
	// pool tolerates before shrinking. It dampens flapping around the target.
	ScaleDownMargin int
}

// ScaleDecision is the outcome of one AutoScalePool call. When Action is
// ScaleUp the caller provisions exactly one instance; when it is ScaleDown
// the instances in MarkedTerminating have already been moved to terminating
// and await teardown.
type ScaleDecision struct {
	PoolID            string      `json:"pool_id"`
	Action            ScaleAction `json:"action"`
	Metrics           *Metrics    `json:"metrics"`
	MarkedTerminating []string    `json:"marked_terminating,omitempty"`
}

// Release reasons recorded on closed allocations.
const (
	ReasonRelease   = "release"
	ReasonHibernate = "hibernate"
)

// Pool is a configured group of interchangeable sessions for one
// (platform, deviceType) combination.
type Pool struct {
	// ID is the unique pool identifier.
	ID string

	// Platform is the emulated OS family, e.g. "ios" or "android".
	Platform string

	// DeviceType is the emulated device model, e.g. "iphone15".
	DeviceType string

	// TargetSize is the ready-instance count the scaler steers toward.
	TargetSize int

	// MinSize is the floor of ready instances scale-down will not cross.
	MinSize int

	// MaxSize caps live (non-terminated) instances in the pool.
	MaxSize int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionInstance is one ephemeral remote device-emulation session and its
// lifecycle state.
type SessionInstance struct {
	// ID is the unique instance identifier.
	ID string

	// PoolID is the owning pool.
	PoolID string

	// ProviderSessionID is the provider's identifier for the remote session.
	ProviderSessionID string

	// PublicHandle is the provider handle consumers embed to reach the
	// session, exposed to callers as the public key.
	PublicHandle string

	// Status is the lifecycle state.
	Status Status

	// HealthStatus is the most recent probe result.
	HealthStatus HealthStatus

	// Metadata holds extensible instance data.
	Metadata map[string]any

	// LastConsumerID remembers who held the instance last; set on claim and
	// on hibernation, where it scopes the wake path to that consumer.
	LastConsumerID string

	// LastActiveAt is the most recent claim, release, or wake; idleness
	// decisions measure from it.
	LastActiveAt time.Time

	// LastHealthCheckAt is when the health monitor last probed the instance,
	// nil before the first probe.
	LastHealthCheckAt *time.Time

	CreatedAt time.Time

	// TerminatedAt is set once the instance reaches StatusTerminated.
	TerminatedAt *time.Time
}

// Allocation is a time-bounded exclusive claim of a SessionInstance by a
// consumer. At most one allocation per instance is open (ReleasedAt nil) at
// any time.
type Allocation struct {
	// ID is the unique allocation identifier.
	ID string

	// SessionInstanceID is the claimed instance.
	SessionInstanceID string

	// ConsumerID is the user holding the claim.
	ConsumerID string

	// Type records whether the claim reused an instance or provisioned one.
	Type AllocationType

	// Priority is the caller-supplied scheduling hint, recorded as given.
	Priority int

	AllocatedAt time.Time

	// ReleasedAt closes the allocation; nil while the claim is open.
	ReleasedAt *time.Time

	// DurationSeconds is the closed claim's length, whole seconds.
	DurationSeconds int64

	// ReleaseReason records why the allocation closed.
	ReleaseReason string
}

// Open reports whether the allocation is still held.
func (a *Allocation) Open() bool {
	return a.ReleasedAt == nil
}

// Claim pairs the instance a consumer received with its new allocation.
type Claim struct {
	Session    *SessionInstance
	Allocation *Allocation
}

// ReleaseResult reports the outcome of a release. Allocation is nil when the
// instance had no open allocation (the release was an idempotent no-op).
type ReleaseResult struct {
	Session    *SessionInstance
	Allocation *Allocation
}

// Metrics is the observed state of one pool at a point in time.
type Metrics struct {
	PoolID     string `json:"pool_id"`
	Platform   string `json:"platform"`
	DeviceType string `json:"device_type"`

	ReadyCount       int `json:"ready_count"`
	AllocatedCount   int `json:"allocated_count"`
	HibernatedCount  int `json:"hibernated_count"`
	TerminatingCount int `json:"terminating_count"`

	// RecentDemand is the number of allocations opened in the trailing
	// demand window.
	RecentDemand int `json:"recent_demand"`

	TargetSize int `json:"target_size"`
	MinSize    int `json:"min_size"`
	MaxSize    int `json:"max_size"`

	ComputedAt time.Time `json:"computed_at"`
}

// LiveCount is the number of non-terminated instances the pool is paying for.
func (m *Metrics) LiveCount() int {
	return m.ReadyCount + m.AllocatedCount + m.HibernatedCount + m.TerminatingCount
}

// transitions enumerates the legal status changes.
var transitions = map[Status][]Status{
	StatusReady:       {StatusAllocated, StatusHibernated, StatusTerminating},
	StatusAllocated:   {StatusReady, StatusHibernated, StatusTerminating},
	StatusHibernated:  {StatusAllocated, StatusTerminating},
	StatusTerminating: {StatusTerminated},
	StatusTerminated:  {},
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. StatusTerminated is terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidSizes checks the pool's size bounds: 0 ≤ min ≤ target ≤ max, max > 0.
func (p *Pool) ValidSizes() bool {
	return p.MinSize >= 0 && p.MinSize <= p.TargetSize &&
		p.TargetSize <= p.MaxSize && p.MaxSize > 0
}
