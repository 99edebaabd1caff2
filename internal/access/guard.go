package access

import (
	"context"
	"errors"
	"fmt"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/identity"
)

var (
	// ErrForbidden: valid credential, insufficient role.
	ErrForbidden = errors.New("access: forbidden")
	// ErrSelfProtection: a privileged actor's disallowed action against its
	// own account or a peer privileged account. The actor is authorized for
	// the operation in general, so this is a 400-class failure, not a 403.
	ErrSelfProtection = errors.New("access: self-protection violation")
)

// Guard enforces role requirements and the admin self-protection rules.
// Every denial is recorded with the attempted action and the denying rule.
type Guard struct {
	rec *audit.Recorder
}

// NewGuard constructs a Guard. The recorder may be nil in tests.
func NewGuard(rec *audit.Recorder) *Guard {
	return &Guard{rec: rec}
}

// RequireRole fails with ErrForbidden unless the identity satisfies the
// requirement. Admin satisfies everything; other roles must match exactly.
func (g *Guard) RequireRole(ctx context.Context, id identity.Identity, required identity.Role, action string) error {
	if id.Role.Satisfies(required) {
		return nil
	}
	g.deny(ctx, id, action, audit.SeverityInfo,
		fmt.Sprintf("role %s does not satisfy required role %s", id.Role, required))
	return ErrForbidden
}

// RequireSelfOrRole allows access to "my own resource" endpoints: the role
// check is waived when the identity owns the target.
func (g *Guard) RequireSelfOrRole(ctx context.Context, id identity.Identity, targetID string, required identity.Role, action string) error {
	if !id.IsAnonymous() && id.ID == targetID {
		return nil
	}
	return g.RequireRole(ctx, id, required, action)
}

// CheckRoleChange enforces the self-demotion rule: an admin may not change
// its own role away from admin. Call before any role mutation.
func (g *Guard) CheckRoleChange(ctx context.Context, actor identity.Identity, targetID string, newRole identity.Role, action string) error {
	if actor.IsAdmin() && actor.ID == targetID && newRole != identity.RoleAdmin {
		g.deny(ctx, actor, action, audit.SeverityWarning,
			"admin may not change its own role away from admin")
		return ErrSelfProtection
	}
	return nil
}

// CheckDelete enforces the deletion rules: an admin may not delete its own
// account, nor another identity holding the admin role.
func (g *Guard) CheckDelete(ctx context.Context, actor identity.Identity, targetID string, targetRole identity.Role, action string) error {
	if actor.IsAdmin() && actor.ID == targetID {
		g.deny(ctx, actor, action, audit.SeverityWarning,
			"admin may not delete its own account")
		return ErrSelfProtection
	}
	if targetRole == identity.RoleAdmin && actor.ID != targetID {
		g.deny(ctx, actor, action, audit.SeverityWarning,
			"admin accounts may not be deleted by another actor")
		return ErrSelfProtection
	}
	return nil
}

func (g *Guard) deny(ctx context.Context, id identity.Identity, action string, sev audit.Severity, rule string) {
	if g.rec == nil {
		return
	}
	meta := audit.MetaFromContext(ctx)
	g.rec.Record(ctx, audit.Event{
		ActorID:       id.ID,
		ActorName:     id.DisplayName,
		Action:        action,
		Detail:        rule,
		Severity:      sev,
		SourceAddress: meta.SourceAddress,
	})
}
