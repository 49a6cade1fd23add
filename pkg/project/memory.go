package project

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory project store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewMemoryStore creates an in-memory project store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*Project)}
}

// Get retrieves a project by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, nil //nolint:nilnil // absent project is not an error
	}
	clone := *p
	return &clone, nil
}

// Upsert inserts or replaces the project row.
func (s *MemoryStore) Upsert(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	clone := *p
	if existing, ok := s.projects[p.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.projects[p.ID] = &clone
	return nil
}

// List returns projects, newest first.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projects := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		clone := *p
		projects = append(projects, &clone)
	}
	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].CreatedAt.After(projects[j].CreatedAt)
		}
		return projects[i].ID < projects[j].ID
	})

	if offset > 0 {
		if offset >= len(projects) {
			return nil, nil
		}
		projects = projects[offset:]
	}
	if limit > 0 && len(projects) > limit {
		projects = projects[:limit]
	}
	return projects, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
