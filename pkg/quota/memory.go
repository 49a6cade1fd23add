package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory quota store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	quotas map[string]*UserQuota

	now func() time.Time
}

// NewMemoryStore creates an in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotas: make(map[string]*UserQuota),
		now:    time.Now,
	}
}

// Get retrieves the quota row for a user. Returns nil, nil when absent.
func (s *MemoryStore) Get(_ context.Context, userID string) (*UserQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotas[userID]
	if !ok {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	clone := *q
	return &clone, nil
}

// Upsert creates or replaces a user's quota row.
func (s *MemoryStore) Upsert(_ context.Context, q *UserQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *q
	clone.UpdatedAt = s.now().UTC()
	s.quotas[q.UserID] = &clone
	return nil
}

// AddUsedMinutes atomically adds usage for the period, creating the row when
// absent and resetting usage recorded under an older period.
func (s *MemoryStore) AddUsedMinutes(_ context.Context, userID string, minutes, defaultLimit int64, period string) (*UserQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[userID]
	if !ok {
		q = &UserQuota{UserID: userID, LimitMinutes: defaultLimit}
		s.quotas[userID] = q
	}
	if q.PeriodMonth != period {
		q.PeriodMonth = period
		q.UsedMinutes = 0
	}
	q.UsedMinutes += minutes
	q.UpdatedAt = s.now().UTC()

	clone := *q
	return &clone, nil
}

// List returns all quota rows ordered by user ID.
func (s *MemoryStore) List(_ context.Context) ([]*UserQuota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotas := make([]*UserQuota, 0, len(s.quotas))
	for _, q := range s.quotas {
		clone := *q
		quotas = append(quotas, &clone)
	}
	sort.Slice(quotas, func(i, j int) bool { return quotas[i].UserID < quotas[j].UserID })
	return quotas, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
