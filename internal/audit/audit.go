package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity grades how alarming an event is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity validates a severity string from an external caller.
func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.TrimSpace(strings.ToLower(raw))) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityError:
		return SeverityError, nil
	default:
		return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidFilter, raw)
	}
}

// Event is an append-only record of a security- or admin-relevant action.
// Once written it is never mutated; only bulk deletion by filter removes it.
type Event struct {
	ID            string    `json:"id"`
	ActorID       string    `json:"actor_id,omitempty"`
	ActorName     string    `json:"actor_name,omitempty"`
	Action        string    `json:"action"`
	TargetID      string    `json:"target_id,omitempty"`
	TargetName    string    `json:"target_name,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Severity      Severity  `json:"severity"`
	Timestamp     time.Time `json:"timestamp"`
	SourceAddress string    `json:"source_address,omitempty"`
}

// Query selects events for the admin surface. All filters are optional and
// combine with AND. Action matches as a case-insensitive substring;
// ActorOrTargetID matches either side of the event.
type Query struct {
	Severity        Severity
	Action          string
	ActorOrTargetID string
	From            *time.Time
	To              *time.Time
	Page            int
	Limit           int
}

// Matches reports whether the event passes the query's filters, ignoring
// pagination. Store implementations that filter in memory share this.
func (q Query) Matches(e Event) bool {
	if q.Severity != "" && e.Severity != q.Severity {
		return false
	}
	if q.Action != "" && !strings.Contains(strings.ToLower(e.Action), strings.ToLower(q.Action)) {
		return false
	}
	if q.ActorOrTargetID != "" && e.ActorID != q.ActorOrTargetID && e.TargetID != q.ActorOrTargetID {
		return false
	}
	if q.From != nil && e.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && e.Timestamp.After(*q.To) {
		return false
	}
	return true
}

// PurgeFilter scopes a bulk deletion. Severity and OlderThan combine with
// AND; at least one must be set.
type PurgeFilter struct {
	Severity  Severity
	OlderThan *time.Time
}

// Empty reports whether the filter would match everything.
func (f PurgeFilter) Empty() bool {
	return f.Severity == "" && f.OlderThan == nil
}

// Matches reports whether the event falls inside the purge scope.
func (f PurgeFilter) Matches(e Event) bool {
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.OlderThan != nil && !e.Timestamp.Before(*f.OlderThan) {
		return false
	}
	return true
}

// Pagination describes one page of query results.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Store persists audit events. Find returns the requested page sorted by
// timestamp descending together with the total match count.
type Store interface {
	Insert(ctx context.Context, e *Event) error
	Find(ctx context.Context, q Query) ([]Event, int, error)
	DeleteMany(ctx context.Context, f PurgeFilter) (int64, error)
}

// Sink forwards high-severity events to an external destination.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

var (
	// ErrUnscopedPurge guards against wiping the whole trail.
	ErrUnscopedPurge = errors.New("audit: purge requires a severity or olderThan filter")
	// ErrInvalidFilter marks a query or purge filter that cannot be parsed.
	ErrInvalidFilter = errors.New("audit: invalid filter")
)
