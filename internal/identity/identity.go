package identity

import "strings"

// Role is the coarse privilege tier of an identity.
type Role string

const (
	RoleGuest   Role = "guest"
	RoleUser    Role = "user"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes a stored role string. Unknown values collapse to
// guest so a corrupted record can never grant privileges.
func ParseRole(raw string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleUser:
		return RoleUser
	case RolePremium:
		return RolePremium
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleGuest
	}
}

// Valid reports whether the role is one a persisted account may carry.
// Guest exists only implicitly and is never stored.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RolePremium, RoleAdmin:
		return true
	}
	return false
}

// Unlimited reports whether the role bypasses usage quotas entirely.
func (r Role) Unlimited() bool {
	return r == RoleAdmin || r == RolePremium
}

// Satisfies reports whether the role meets a requirement. Admin dominates
// every requirement; all other roles must match exactly.
func (r Role) Satisfies(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// Identity is the resolved actor for a single request. It is created at
// resolution time and immutable afterwards.
type Identity struct {
	ID          string
	DisplayName string
	Role        Role
}

// Anonymous is the guest identity used when no credential is presented.
func Anonymous() Identity {
	return Identity{Role: RoleGuest}
}

// IsAnonymous reports whether the identity carries no account.
func (id Identity) IsAnonymous() bool {
	return id.ID == "" || id.Role == RoleGuest
}

// IsAdmin reports whether the identity holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}
