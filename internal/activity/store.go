package activity

import (
	"strings"
	"sync"
)

// DefaultMaxRecords bounds the store when no limit is configured.
const DefaultMaxRecords = 1000

// Store keeps a bounded, newest-first history of activity records in
// memory. When the bound is reached the oldest record is dropped. Safe for
// concurrent use. History does not survive a restart.
type Store struct {
	mu      sync.RWMutex
	records []Activity // oldest first
	max     int
}

// NewStore creates a Store bounded to max records. Non-positive max falls
// back to DefaultMaxRecords.
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Store{max: max}
}

// Add appends a record, evicting the oldest when at capacity.
func (s *Store) Add(a Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.max {
		s.records = s.records[1:]
	}
	s.records = append(s.records, a)
}

// List returns up to limit records, newest first, optionally filtered by
// type. A non-positive limit means no limit.
func (s *Store) List(limit int, typ Type) []Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Activity, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if typ != "" && rec.Type != typ {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Search returns records whose description or path contains query
// (case-insensitive), narrowed by filters, newest first.
func (s *Store) Search(query string, filters SearchFilters) []Activity {
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Activity, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if filters.Type != "" && rec.Type != filters.Type {
			continue
		}
		if filters.InstanceID != "" && rec.InstanceID != filters.InstanceID {
			continue
		}
		if rec.Score < filters.MinScore {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(rec.Description), q) &&
			!strings.Contains(strings.ToLower(rec.Path), q) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Stats summarizes the store contents.
func (s *Store) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		Total:  len(s.records),
		ByType: make(map[string]int),
	}
	var sum float64
	for _, rec := range s.records {
		stats.ByType[string(rec.Type)]++
		sum += rec.Score
	}
	if stats.Total > 0 {
		stats.AverageScore = sum / float64(stats.Total)
	}
	return stats
}

// Clear removes all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
