package audit

import (
	"context"
	"strings"
)

type metaContextKey struct{}

// Meta is the request-scoped metadata stamped onto events emitted deeper in
// the call chain, where the *http.Request is no longer in reach.
type Meta struct {
	RequestID     string
	SourceAddress string
}

// WithMeta attaches request metadata to the context.
func WithMeta(ctx context.Context, m Meta) context.Context {
	m.RequestID = strings.TrimSpace(m.RequestID)
	m.SourceAddress = strings.TrimSpace(m.SourceAddress)
	return context.WithValue(ctx, metaContextKey{}, m)
}

// MetaFromContext returns the attached metadata, zero-valued if absent.
func MetaFromContext(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	if m, ok := ctx.Value(metaContextKey{}).(Meta); ok {
		return m
	}
	return Meta{}
}
