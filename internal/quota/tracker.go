package quota

import (
	"context"
	"fmt"
	"time"

	"chatgrid.org/internal/audit"
	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/obs"
)

// Window is the rolling period over which usage is counted before reset.
const Window = 24 * time.Hour

// Unlimited marks a result not subject to any allowance.
const Unlimited = -1

// Record is the per-key usage state owned by the persistent store.
type Record struct {
	Key         string
	Count       int
	WindowStart time.Time
}

// Apply advances the record for one consumption attempt and reports whether
// it was admitted. The window reset happens before the limit comparison;
// resetting after the check would admit one request under the stale window.
// Callers must hold whatever serializes updates for this key.
func Apply(rec *Record, limit int, now time.Time) bool {
	if rec.WindowStart.IsZero() || now.Sub(rec.WindowStart) >= Window {
		rec.Count = 0
		rec.WindowStart = now
	}
	if rec.Count >= limit {
		return false
	}
	rec.Count++
	return true
}

// Store applies one consumption attempt atomically for a single key. The
// read-check-increment sequence must be serialized per key, either by an
// in-process lock or by a conditional update at the persistent store; both
// behave identically to callers. The returned record reflects the state
// after the attempt.
type Store interface {
	Consume(ctx context.Context, key string, limit int, now time.Time) (Record, bool, error)
}

// Result says whether the metered action may proceed.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// Key derives the quota key for an identity: the identity id, or the source
// address for anonymous callers.
func Key(id identity.Identity, sourceAddress string) string {
	if !id.IsAnonymous() {
		return id.ID
	}
	return "addr:" + sourceAddress
}

// Tracker enforces the rolling per-identity allowance. Denials are audited;
// admissions are not, they are far too frequent.
type Tracker struct {
	store Store
	rec   *audit.Recorder
	now   func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithAudit attaches the recorder consulted on denial paths.
func WithAudit(rec *audit.Recorder) TrackerOption {
	return func(t *Tracker) { t.rec = rec }
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTracker constructs a Tracker over the given store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CheckAndConsume admits or rejects one metered action for the identity.
// Unlimited roles bypass the store entirely; no record is touched. A store
// failure propagates so the caller can map it to an internal error instead
// of silently admitting traffic.
func (t *Tracker) CheckAndConsume(ctx context.Context, id identity.Identity, key string, limit int) (Result, error) {
	if id.Role.Unlimited() || limit < 0 {
		return Result{Allowed: true, Remaining: Unlimited, Limit: Unlimited}, nil
	}
	rec, allowed, err := t.store.Consume(ctx, key, limit, t.now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("quota: consume %s: %w", key, err)
	}
	if !allowed {
		obs.CountQuotaDenial(string(id.Role))
		t.auditDenial(ctx, id, key, limit)
		return Result{Allowed: false, Remaining: 0, Limit: limit}, nil
	}
	remaining := limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Limit: limit}, nil
}

func (t *Tracker) auditDenial(ctx context.Context, id identity.Identity, key string, limit int) {
	if t.rec == nil {
		return
	}
	meta := audit.MetaFromContext(ctx)
	t.rec.Record(ctx, audit.Event{
		ActorID:       id.ID,
		ActorName:     id.DisplayName,
		Action:        "quota.denied",
		Detail:        fmt.Sprintf("daily allowance of %d exhausted for key %s", limit, key),
		Severity:      audit.SeverityWarning,
		SourceAddress: meta.SourceAddress,
	})
}
