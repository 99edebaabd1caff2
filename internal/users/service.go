package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatgrid.org/internal/access"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/ids"
)

// Service wraps the store with validation, credential checks and the guard's
// self-protection rules on administrative mutations.
type Service struct {
	store Store
	guard *access.Guard
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, guard *access.Guard, opts ...ServiceOption) *Service {
	s := &Service{store: store, guard: guard, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new active account with the user role.
func (s *Service) Register(ctx context.Context, displayName, password string) (User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return User{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	u := User{
		ID:           ids.New(),
		DisplayName:  displayName,
		Role:         identity.RoleUser,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Authenticate checks credentials and returns the account. Unknown name,
// wrong password and inactive account all fail with ErrBadCredentials.
func (s *Service) Authenticate(ctx context.Context, displayName, password string) (User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || password == "" {
		return User{}, ErrBadCredentials
	}
	u, err := s.store.FindByDisplayName(ctx, displayName)
	if err != nil {
		return User{}, ErrBadCredentials
	}
	if !u.IsActive {
		return User{}, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// Find returns one account by id.
func (s *Service) Find(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, id)
}

// List returns one page of accounts plus the total count.
func (s *Service) List(ctx context.Context, page, limit int) ([]User, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.List(ctx, page, limit)
}

// UpdateRole changes an account's role after the self-demotion check.
func (s *Service) UpdateRole(ctx context.Context, actor identity.Identity, targetID string, newRole identity.Role) (User, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !newRole.Valid() {
		return User{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, newRole)
	}
	if err := s.guard.CheckRoleChange(ctx, actor, targetID, newRole, "user.role.update"); err != nil {
		return User{}, err
	}
	return s.store.UpdateRole(ctx, targetID, newRole)
}

// Delete removes an account after the self-deletion and peer-admin checks.
func (s *Service) Delete(ctx context.Context, actor identity.Identity, targetID string) (User, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	target, err := s.store.Find(ctx, targetID)
	if err != nil {
		return User{}, err
	}
	if err := s.guard.CheckDelete(ctx, actor, target.ID, target.Role, "user.delete"); err != nil {
		return User{}, err
	}
	if err := s.store.Delete(ctx, targetID); err != nil {
		return User{}, err
	}
	return target, nil
}
