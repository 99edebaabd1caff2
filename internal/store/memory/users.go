package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/users"
)

// UserStore keeps identity records in process.
type UserStore struct {
	mu   sync.RWMutex
	byID map[string]users.User
}

var _ users.Store = (*UserStore)(nil)

// NewUserStore constructs an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{byID: make(map[string]users.User)}
}

// Create inserts a record; display names are unique case-insensitively.
func (s *UserStore) Create(_ context.Context, u *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; ok {
		return users.ErrConflict
	}
	for _, existing := range s.byID {
		if strings.EqualFold(existing.DisplayName, u.DisplayName) {
			return users.ErrConflict
		}
	}
	s.byID[u.ID] = *u
	return nil
}

// Find looks up a record by id.
func (s *UserStore) Find(_ context.Context, id string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

// FindByDisplayName looks up a record by its unique display name.
func (s *UserStore) FindByDisplayName(_ context.Context, name string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.DisplayName, name) {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

// List returns one page ordered by id (creation order for ULIDs) plus the
// total count.
func (s *UserStore) List(_ context.Context, page, limit int) ([]users.User, int, error) {
	s.mu.RLock()
	all := make([]users.User, 0, len(s.byID))
	for _, u := range s.byID {
		all = append(all, u)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []users.User{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// UpdateRole sets the role and returns the updated record.
func (s *UserStore) UpdateRole(_ context.Context, id string, role identity.Role) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return u, nil
}

// Delete removes a record.
func (s *UserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return users.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
