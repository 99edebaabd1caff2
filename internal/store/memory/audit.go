package memory

import (
	"context"
	"sort"
	"sync"

	"chatgrid.org/internal/audit"
)

// AuditStore keeps audit events in process. Suitable for single-instance
// deployments and tests; the Postgres store covers everything else.
type AuditStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore constructs an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Insert appends one event.
func (s *AuditStore) Insert(_ context.Context, e *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// Find returns the requested page sorted by timestamp descending, with ids
// breaking timestamp ties, plus the total match count.
func (s *AuditStore) Find(_ context.Context, q audit.Query) ([]audit.Event, int, error) {
	s.mu.RLock()
	var matched []audit.Event
	for _, e := range s.events {
		if q.Matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := (q.Page - 1) * q.Limit
	if start >= total {
		return []audit.Event{}, total, nil
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// DeleteMany removes exactly the events inside the purge scope.
func (s *AuditStore) DeleteMany(_ context.Context, f audit.PurgeFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if f.Matches(e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}
