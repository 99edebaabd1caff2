package session

import (
	"context"

	"chatgrid.org/internal/identity"
)

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the context for the
// remainder of the request.
func ContextWithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the resolved identity. The boolean is false
// when no resolution middleware ran; an anonymous identity resolves true.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	if ctx == nil {
		return identity.Identity{}, false
	}
	id, ok := ctx.Value(identityContextKey{}).(identity.Identity)
	return id, ok
}
