package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatgrid.org/internal/identity"
)

const issuer = "chatgrid"

// TokenTTL is the fixed session token lifetime.
const TokenTTL = 7 * 24 * time.Hour

// Verification failure kinds, checked in this order. They stay internal to
// the service: the resolver collapses all of them into ErrUnauthenticated
// before anything reaches a caller.
var (
	ErrMalformed    = errors.New("session: malformed token")
	ErrBadSignature = errors.New("session: bad signature")
	ErrExpired      = errors.New("session: token expired")
)

// Claims is the signed token payload: an identity snapshot plus the
// registered time bounds.
type Claims struct {
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with a single shared HS256 secret.
// Verification is pure computation with no side effects.
type Codec struct {
	secret []byte
}

// NewCodec constructs a Codec from the shared signing secret.
func NewCodec(secret string) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session: signing secret is required")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Sign issues a token for the identity valid from now for TokenTTL.
func (c *Codec) Sign(id identity.Identity, now time.Time) (string, error) {
	if strings.TrimSpace(id.ID) == "" {
		return "", errors.New("session: identity id is required")
	}
	now = now.UTC()
	claims := Claims{
		DisplayName: id.DisplayName,
		Role:        string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token against now and returns the embedded identity
// snapshot. Failures are ErrMalformed, ErrBadSignature or ErrExpired,
// evaluated in that order. The HMAC comparison inside the jwt library is
// constant time.
func (c *Codec) Verify(token string, now time.Time) (identity.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return identity.Identity{}, ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadSignature
		}
		return c.secret, nil
	},
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return identity.Identity{}, classifyTokenError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return identity.Identity{}, ErrMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return identity.Identity{}, ErrMalformed
	}
	return identity.Identity{
		ID:          claims.Subject,
		DisplayName: claims.DisplayName,
		Role:        identity.ParseRole(claims.Role),
	}, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrBadSignature):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
