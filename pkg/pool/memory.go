package pool

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapforge/preview-pool/pkg/fault"
)

// MemoryStore implements Store with in-memory maps. A single store-wide lock
// makes every operation atomic, which satisfies the claim contract without
// row locking. Used by tests and the database-less development mode.
type MemoryStore struct {
	mu          sync.RWMutex
	pools       map[string]*Pool
	sessions    map[string]*SessionInstance
	allocations map[string]*Allocation

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:       make(map[string]*Pool),
		sessions:    make(map[string]*SessionInstance),
		allocations: make(map[string]*Allocation),
		now:         time.Now,
	}
}

// EnsurePool inserts the pool or updates the size bounds of the existing pool
// for the same (platform, deviceType).
func (s *MemoryStore) EnsurePool(_ context.Context, p *Pool) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, existing := range s.pools {
		if existing.Platform == p.Platform && existing.DeviceType == p.DeviceType {
			existing.TargetSize = p.TargetSize
			existing.MinSize = p.MinSize
			existing.MaxSize = p.MaxSize
			existing.UpdatedAt = now
			return clonePool(existing), nil
		}
	}

	stored := clonePool(p)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.pools[stored.ID] = stored
	return clonePool(stored), nil
}

// GetPool retrieves a pool by ID. Returns nil, nil when absent.
func (s *MemoryStore) GetPool(_ context.Context, id string) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return clonePool(p), nil
}

// FindPool retrieves the pool for (platform, deviceType). Returns nil, nil
// when absent.
func (s *MemoryStore) FindPool(_ context.Context, platform, deviceType string) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.pools {
		if p.Platform == platform && p.DeviceType == deviceType {
			return clonePool(p), nil
		}
	}
	return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
}

// ListPools returns all pools sorted by platform then device type.
func (s *MemoryStore) ListPools(_ context.Context) ([]*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Pool, 0, len(s.pools))
	for _, p := range s.pools {
		result = append(result, clonePool(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Platform != result[j].Platform {
			return result[i].Platform < result[j].Platform
		}
		return result[i].DeviceType < result[j].DeviceType
	})
	return result, nil
}

// UpdatePoolSizes adjusts target/min/max for an existing pool.
func (s *MemoryStore) UpdatePoolSizes(_ context.Context, id string, target, min, max int) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fault.NotFoundf("pool %q not found", id)
	}
	p.TargetSize = target
	p.MinSize = min
	p.MaxSize = max
	p.UpdatedAt = s.now()
	return clonePool(p), nil
}

// CreateSession persists a newly provisioned instance.
func (s *MemoryStore) CreateSession(_ context.Context, inst *SessionInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneSession(inst)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastActiveAt.IsZero() {
		stored.LastActiveAt = stored.CreatedAt
	}
	if stored.Status == "" {
		stored.Status = StatusReady
	}
	if stored.HealthStatus == "" {
		stored.HealthStatus = HealthUnknown
	}
	s.sessions[stored.ID] = stored
	inst.ID = stored.ID
	inst.CreatedAt = stored.CreatedAt
	return nil
}

// CreateAllocatedSession persists a provisioned instance as allocated with
// its opening allocation.
func (s *MemoryStore) CreateAllocatedSession(_ context.Context, inst *SessionInstance, consumerID string, priority int) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := cloneSession(inst)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Status = StatusAllocated
	if stored.HealthStatus == "" {
		stored.HealthStatus = HealthUnknown
	}
	stored.LastConsumerID = consumerID
	stored.LastActiveAt = now
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	s.sessions[stored.ID] = stored
	inst.ID = stored.ID

	alloc := &Allocation{
		ID:                uuid.NewString(),
		SessionInstanceID: stored.ID,
		ConsumerID:        consumerID,
		Type:              AllocationNew,
		Priority:          priority,
		AllocatedAt:       now,
	}
	s.allocations[alloc.ID] = alloc

	return &Claim{Session: cloneSession(stored), Allocation: cloneAllocation(alloc)}, nil
}

// GetSession retrieves an instance by ID. Returns nil, nil when absent.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*SessionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.sessions[id]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return cloneSession(inst), nil
}

// ListSessions returns instances matching the filter, newest first.
func (s *MemoryStore) ListSessions(_ context.Context, f SessionFilter) ([]*SessionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SessionInstance, 0, len(s.sessions))
	for _, inst := range s.sessions {
		if f.PoolID != "" && inst.PoolID != f.PoolID {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.HealthStatus != "" && inst.HealthStatus != f.HealthStatus {
			continue
		}
		result = append(result, cloneSession(inst))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, f.Limit, f.Offset), nil
}

// DeleteSession removes an instance and its allocations. Removing an absent
// instance is not an error.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	for allocID, a := range s.allocations {
		if a.SessionInstanceID == id {
			delete(s.allocations, allocID)
		}
	}
	return nil
}

// AllocateFromPool atomically claims one instance for the consumer. The
// consumer's own hibernated instance wins over the ready set; among ready
// instances the oldest is taken. Returns nil, nil when nothing is claimable.
func (s *MemoryStore) AllocateFromPool(_ context.Context, poolID, consumerID string, priority int) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.findWakeable(poolID, consumerID)
	if target == nil {
		target = s.findOldestReady(poolID)
	}
	if target == nil {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for an empty pool
	}

	now := s.now()
	target.Status = StatusAllocated
	target.LastConsumerID = consumerID
	target.LastActiveAt = now

	alloc := &Allocation{
		ID:                uuid.NewString(),
		SessionInstanceID: target.ID,
		ConsumerID:        consumerID,
		Type:              AllocationReused,
		Priority:          priority,
		AllocatedAt:       now,
	}
	s.allocations[alloc.ID] = alloc

	return &Claim{Session: cloneSession(target), Allocation: cloneAllocation(alloc)}, nil
}

// findWakeable returns the consumer's most recently active hibernated
// instance in the pool, or nil. Caller holds the lock.
func (s *MemoryStore) findWakeable(poolID, consumerID string) *SessionInstance {
	var best *SessionInstance
	for _, inst := range s.sessions {
		if inst.PoolID != poolID || inst.Status != StatusHibernated || inst.LastConsumerID != consumerID {
			continue
		}
		if best == nil || inst.LastActiveAt.After(best.LastActiveAt) {
			best = inst
		}
	}
	return best
}

// findOldestReady returns the oldest ready instance in the pool, or nil.
// Caller holds the lock.
func (s *MemoryStore) findOldestReady(poolID string) *SessionInstance {
	var oldest *SessionInstance
	for _, inst := range s.sessions {
		if inst.PoolID != poolID || inst.Status != StatusReady {
			continue
		}
		if oldest == nil || inst.CreatedAt.Before(oldest.CreatedAt) {
			oldest = inst
		}
	}
	return oldest
}

// ReleaseToPool closes the open allocation and returns the instance to the
// ready set, or leaves it terminating when already marked.
func (s *MemoryStore) ReleaseToPool(_ context.Context, sessionID, reason string) (*ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.sessions[sessionID]
	if !ok {
		return nil, fault.NotFoundf("session %q not found", sessionID)
	}

	open := s.openAllocation(sessionID)
	if open == nil {
		return &ReleaseResult{Session: cloneSession(inst)}, nil
	}

	now := s.now()
	released := now
	open.ReleasedAt = &released
	open.DurationSeconds = int64(now.Sub(open.AllocatedAt) / time.Second)
	open.ReleaseReason = reason

	if inst.Status != StatusTerminating {
		inst.Status = StatusReady
	}
	inst.LastActiveAt = now

	return &ReleaseResult{Session: cloneSession(inst), Allocation: cloneAllocation(open)}, nil
}

// openAllocation returns the instance's open allocation, or nil.
// Caller holds the lock.
func (s *MemoryStore) openAllocation(sessionID string) *Allocation {
	for _, a := range s.allocations {
		if a.SessionInstanceID == sessionID && a.ReleasedAt == nil {
			return a
		}
	}
	return nil
}

// ComputePoolMetrics reads the pool's status counts and recent demand.
func (s *MemoryStore) ComputePoolMetrics(_ context.Context, poolID string, demandWindow time.Duration) (*Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[poolID]
	if !ok {
		return nil, fault.NotFoundf("pool %q not found", poolID)
	}
	return s.metricsLocked(p, demandWindow), nil
}

// metricsLocked computes a pool's metrics snapshot. Callers hold s.mu.
func (s *MemoryStore) metricsLocked(p *Pool, demandWindow time.Duration) *Metrics {
	now := s.now()
	m := &Metrics{
		PoolID:     p.ID,
		Platform:   p.Platform,
		DeviceType: p.DeviceType,
		TargetSize: p.TargetSize,
		MinSize:    p.MinSize,
		MaxSize:    p.MaxSize,
		ComputedAt: now,
	}

	poolSessions := make(map[string]bool)
	for _, inst := range s.sessions {
		if inst.PoolID != p.ID {
			continue
		}
		poolSessions[inst.ID] = true
		switch inst.Status {
		case StatusReady:
			m.ReadyCount++
		case StatusAllocated:
			m.AllocatedCount++
		case StatusHibernated:
			m.HibernatedCount++
		case StatusTerminating:
			m.TerminatingCount++
		case StatusTerminated:
		}
	}

	demandSince := now.Add(-demandWindow)
	for _, a := range s.allocations {
		if poolSessions[a.SessionInstanceID] && a.AllocatedAt.After(demandSince) {
			m.RecentDemand++
		}
	}
	return m
}

// AutoScalePool snapshots the pool's metrics and decides on one scaling
// action while holding the store lock. A scale-down marks the surplus idle
// ready instances terminating before the lock is released, so a concurrent
// scale call cannot mark the same instance twice.
func (s *MemoryStore) AutoScalePool(_ context.Context, poolID string, policy ScalePolicy) (*ScaleDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[poolID]
	if !ok {
		return nil, fault.NotFoundf("pool %q not found", poolID)
	}

	m := s.metricsLocked(p, policy.DemandWindow)
	d := &ScaleDecision{PoolID: p.ID, Action: ScaleNone, Metrics: m}

	if m.ReadyCount < p.TargetSize {
		if m.LiveCount() >= p.MaxSize {
			return d, nil
		}
		d.Action = ScaleUp
		return d, nil
	}

	if m.ReadyCount <= p.TargetSize+policy.ScaleDownMargin {
		return d, nil
	}

	idleCutoff := s.now().Add(-policy.IdleThreshold)
	var candidates []*SessionInstance
	for _, inst := range s.sessions {
		if inst.PoolID == poolID && inst.Status == StatusReady && inst.LastActiveAt.Before(idleCutoff) {
			candidates = append(candidates, inst)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastActiveAt.Before(candidates[j].LastActiveAt)
	})
	if excess := m.ReadyCount - p.TargetSize; excess < len(candidates) {
		candidates = candidates[:excess]
	}

	for _, inst := range candidates {
		inst.Status = StatusTerminating
		d.MarkedTerminating = append(d.MarkedTerminating, inst.ID)
	}
	if len(d.MarkedTerminating) > 0 {
		d.Action = ScaleDown
	}
	return d, nil
}

// MarkUnhealthyTerminating moves unhealthy ready and hibernated instances of
// the pool to terminating.
func (s *MemoryStore) MarkUnhealthyTerminating(_ context.Context, poolID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, inst := range s.sessions {
		if inst.PoolID != poolID || inst.HealthStatus != HealthUnhealthy {
			continue
		}
		if inst.Status != StatusReady && inst.Status != StatusHibernated {
			continue
		}
		inst.Status = StatusTerminating
		ids = append(ids, inst.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkTerminating moves a single instance to terminating.
func (s *MemoryStore) MarkTerminating(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.sessions[sessionID]
	if !ok {
		return fault.NotFoundf("session %q not found", sessionID)
	}
	if inst.Status == StatusTerminated {
		return fault.Validationf("session %q is already terminated", sessionID)
	}
	inst.Status = StatusTerminating
	return nil
}

// VerifyTerminable re-checks that the instance is terminating with no open
// allocation.
func (s *MemoryStore) VerifyTerminable(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.sessions[sessionID]
	if !ok {
		return false, fault.NotFoundf("session %q not found", sessionID)
	}
	if inst.Status != StatusTerminating {
		return false, nil
	}
	return s.openAllocation(sessionID) == nil, nil
}

// MarkTerminated finalizes a termination.
func (s *MemoryStore) MarkTerminated(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.sessions[sessionID]
	if !ok {
		return fault.NotFoundf("session %q not found", sessionID)
	}
	now := s.now()
	inst.Status = StatusTerminated
	inst.TerminatedAt = &now
	return nil
}

// HibernateIdleSessions parks allocated instances whose activity is older
// than idleCutoff, closing their allocations.
func (s *MemoryStore) HibernateIdleSessions(_ context.Context, idleCutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, inst := range s.sessions {
		if inst.Status != StatusAllocated {
			continue
		}
		open := s.openAllocation(inst.ID)
		if open == nil {
			continue
		}
		lastActivity := inst.LastActiveAt
		if open.AllocatedAt.After(lastActivity) {
			lastActivity = open.AllocatedAt
		}
		if !lastActivity.Before(idleCutoff) {
			continue
		}

		released := now
		open.ReleasedAt = &released
		open.DurationSeconds = int64(now.Sub(open.AllocatedAt) / time.Second)
		open.ReleaseReason = ReasonHibernate

		inst.Status = StatusHibernated
		inst.LastConsumerID = open.ConsumerID
		count++
	}
	return count, nil
}

// StaleSessions returns live instances not probed since the cutoff,
// stalest first.
func (s *MemoryStore) StaleSessions(_ context.Context, poolID string, cutoff time.Time, limit int) ([]*SessionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*SessionInstance
	for _, inst := range s.sessions {
		if poolID != "" && inst.PoolID != poolID {
			continue
		}
		if inst.Status != StatusReady && inst.Status != StatusAllocated && inst.Status != StatusHibernated {
			continue
		}
		if inst.LastHealthCheckAt == nil || inst.LastHealthCheckAt.Before(cutoff) {
			result = append(result, cloneSession(inst))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].LastHealthCheckAt, result[j].LastHealthCheckAt
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// SetSessionHealth records a probe result.
func (s *MemoryStore) SetSessionHealth(_ context.Context, sessionID string, hs HealthStatus, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.sessions[sessionID]
	if !ok {
		return fault.NotFoundf("session %q not found", sessionID)
	}
	checked := checkedAt
	inst.HealthStatus = hs
	inst.LastHealthCheckAt = &checked
	return nil
}

// ListAllocations returns allocations matching the filter, newest first.
func (s *MemoryStore) ListAllocations(_ context.Context, f AllocationFilter) ([]*Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Allocation, 0, len(s.allocations))
	for _, a := range s.allocations {
		if f.SessionInstanceID != "" && a.SessionInstanceID != f.SessionInstanceID {
			continue
		}
		if f.ConsumerID != "" && a.ConsumerID != f.ConsumerID {
			continue
		}
		if f.OpenOnly && a.ReleasedAt != nil {
			continue
		}
		result = append(result, cloneAllocation(a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AllocatedAt.After(result[j].AllocatedAt)
	})
	return paginate(result, f.Limit, f.Offset), nil
}

// SumClosedAllocationSeconds totals closed allocation durations for the
// instance within [from, to).
func (s *MemoryStore) SumClosedAllocationSeconds(_ context.Context, sessionID string, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, a := range s.allocations {
		if a.SessionInstanceID != sessionID || a.ReleasedAt == nil {
			continue
		}
		if a.ReleasedAt.Before(from) || !a.ReleasedAt.Before(to) {
			continue
		}
		total += a.DurationSeconds
	}
	return total, nil
}

// SessionsWithClosedAllocations lists distinct instances with an allocation
// closed within [from, to).
func (s *MemoryStore) SessionsWithClosedAllocations(_ context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, a := range s.allocations {
		if a.ReleasedAt == nil || a.ReleasedAt.Before(from) || !a.ReleasedAt.Before(to) {
			continue
		}
		seen[a.SessionInstanceID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases store resources.
func (s *MemoryStore) Close() error {
	return nil
}

// paginate applies limit/offset to an already sorted slice.
func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func clonePool(p *Pool) *Pool {
	cp := *p
	return &cp
}

func cloneSession(inst *SessionInstance) *SessionInstance {
	cp := *inst
	if inst.Metadata != nil {
		cp.Metadata = make(map[string]any, len(inst.Metadata))
		maps.Copy(cp.Metadata, inst.Metadata)
	}
	if inst.LastHealthCheckAt != nil {
		t := *inst.LastHealthCheckAt
		cp.LastHealthCheckAt = &t
	}
	if inst.TerminatedAt != nil {
		t := *inst.TerminatedAt
		cp.TerminatedAt = &t
	}
	return &cp
}

func cloneAllocation(a *Allocation) *Allocation {
	cp := *a
	if a.ReleasedAt != nil {
		t := *a.ReleasedAt
		cp.ReleasedAt = &t
	}
	return &cp
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
