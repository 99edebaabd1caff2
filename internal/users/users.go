package users

import (
	"context"
	"errors"
	"time"

	"chatgrid.org/internal/identity"
)

var (
	ErrNotFound     = errors.New("users: not found")
	ErrConflict     = errors.New("users: already exists")
	ErrInvalidInput = errors.New("users: invalid input")
	// ErrBadCredentials covers unknown name, wrong password and disabled
	// accounts alike, so login failures leak nothing.
	ErrBadCredentials = errors.New("users: bad credentials")
)

// User is the persisted identity record. MessageCount and LastReset are
// legacy usage columns kept for schema compatibility; the quota tracker is
// the sole admission authority and nothing reads them.
type User struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"display_name"`
	Role         identity.Role `json:"role"`
	PasswordHash string        `json:"-"`
	IsActive     bool          `json:"is_active"`
	MessageCount int           `json:"-"`
	LastReset    time.Time     `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Identity returns the request-scoped identity snapshot for the record.
func (u User) Identity() identity.Identity {
	return identity.Identity{ID: u.ID, DisplayName: u.DisplayName, Role: u.Role}
}

// Store persists identity records.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (User, error)
	FindByDisplayName(ctx context.Context, name string) (User, error)
	List(ctx context.Context, page, limit int) ([]User, int, error)
	UpdateRole(ctx context.Context, id string, role identity.Role) (User, error)
	Delete(ctx context.Context, id string) error
}
