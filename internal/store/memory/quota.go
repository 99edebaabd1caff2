package memory

import (
	"context"
	"sync"
	"time"

	"chatgrid.org/internal/quota"
)

// QuotaStore keeps usage records in process, serializing updates with a
// lock per key so unrelated keys never contend.
type QuotaStore struct {
	mu      sync.Mutex // guards the map only
	entries map[string]*quotaEntry
}

type quotaEntry struct {
	mu  sync.Mutex
	rec quota.Record
}

var _ quota.Store = (*QuotaStore)(nil)

// NewQuotaStore constructs an empty QuotaStore.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{entries: make(map[string]*quotaEntry)}
}

// Consume applies one attempt under the key's lock.
func (s *QuotaStore) Consume(_ context.Context, key string, limit int, now time.Time) (quota.Record, bool, error) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	allowed := quota.Apply(&e.rec, limit, now)
	return e.rec, allowed, nil
}

func (s *QuotaStore) entry(key string) *quotaEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &quotaEntry{rec: quota.Record{Key: key}}
		s.entries[key] = e
	}
	return e
}
