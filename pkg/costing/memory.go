package costing

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// memoryKey identifies a record by instance and period.
type memoryKey struct {
	sessionID string
	start     int64
	end       int64
}

// MemoryStore is an in-memory cost store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey]*CostRecord
}

// NewMemoryStore creates an in-memory cost store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[memoryKey]*CostRecord)}
}

// Insert writes a record, reporting false for an already-billed period.
func (s *MemoryStore) Insert(_ context.Context, rec *CostRecord) (bool, error) {
	key := memoryKey{
		sessionID: rec.SessionInstanceID,
		start:     rec.PeriodStart.UnixNano(),
		end:       rec.PeriodEnd.UnixNano(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = cloneRecord(rec)
	return true, nil
}

// List returns records matching the filter, newest period first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*CostRecord
	for _, rec := range s.records {
		if f.SessionInstanceID != "" && rec.SessionInstanceID != f.SessionInstanceID {
			continue
		}
		if !f.From.IsZero() && rec.PeriodStart.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !rec.PeriodEnd.Before(f.To) && !rec.PeriodEnd.Equal(f.To) {
			continue
		}
		records = append(records, cloneRecord(rec))
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].PeriodStart.Equal(records[j].PeriodStart) {
			return records[i].PeriodStart.After(records[j].PeriodStart)
		}
		return records[i].SessionInstanceID < records[j].SessionInstanceID
	})

	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return nil, nil
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

// Totals aggregates records whose period overlaps [from, to).
func (s *MemoryStore) Totals(_ context.Context, from, to time.Time) (*Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &Totals{}
	for _, rec := range s.records {
		if !to.IsZero() && !rec.PeriodStart.Before(to) {
			continue
		}
		if !from.IsZero() && !rec.PeriodEnd.After(from) {
			continue
		}
		t.Records++
		t.RuntimeSeconds += rec.RuntimeSeconds
		t.RuntimeMinutes += rec.RuntimeMinutes
		t.CostUSD += rec.CostUSD
	}
	return t, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(rec *CostRecord) *CostRecord {
	clone := *rec
	if rec.Breakdown != nil {
		clone.Breakdown = make(map[string]float64, len(rec.Breakdown))
		maps.Copy(clone.Breakdown, rec.Breakdown)
	}
	return &clone
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
