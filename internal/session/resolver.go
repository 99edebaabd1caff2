package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"chatgrid.org/internal/identity"
)

// CookieName carries the session token on the browser surface.
const CookieName = "chatgrid_session"

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// ErrUnauthenticated is the only failure the resolver exposes. Every codec
// failure kind collapses into it so callers cannot distinguish a bad
// signature from an expired token.
var ErrUnauthenticated = errors.New("session: unauthenticated")

// Resolver extracts a session token from an inbound request and turns it
// into a resolved identity. It reads the credential and nothing else; in
// particular it never writes audit events.
type Resolver struct {
	codec *Codec
	now   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given codec.
func NewResolver(codec *Codec, opts ...ResolverOption) *Resolver {
	r := &Resolver{codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRequired returns the authenticated identity or ErrUnauthenticated.
func (r *Resolver) ResolveRequired(req *http.Request) (identity.Identity, error) {
	token, ok := extractToken(req)
	if !ok {
		return identity.Identity{}, ErrUnauthenticated
	}
	id, err := r.codec.Verify(token, r.now())
	if err != nil {
		return identity.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// ResolveOptional returns the authenticated identity when a valid credential
// is present and the anonymous guest identity otherwise. It never fails.
func (r *Resolver) ResolveOptional(req *http.Request) identity.Identity {
	id, err := r.ResolveRequired(req)
	if err != nil {
		return identity.Anonymous()
	}
	return id
}

// extractToken prefers the session cookie and falls back to a bearer header
// for non-browser clients.
func extractToken(req *http.Request) (string, bool) {
	if c, err := req.Cookie(CookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, true
		}
	}
	header := strings.TrimSpace(req.Header.Get(authHeader))
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

// NewCookie builds the session cookie for a freshly signed token. HTTP-only
// and same-site-strict always; Secure outside local development.
func NewCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie builds the expired cookie used on logout.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}
