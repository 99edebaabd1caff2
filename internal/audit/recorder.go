package audit

import (
	"context"
	"time"

	"chatgrid.org/internal/ids"
	"chatgrid.org/internal/obs"
)

const (
	defaultWriteTimeout  = 2 * time.Second
	defaultNotifyTimeout = 3 * time.Second
	defaultPageLimit     = 20
	maxPageLimit         = 200
)

// Recorder is the audit logger the rest of the service talks to. Writes
// never fail the caller's request: a store failure gets one retry, then the
// event goes to the local fallback log and the error is swallowed.
type Recorder struct {
	store         Store
	sink          Sink
	writeTimeout  time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSink attaches the external notification sink for high-severity events.
func WithSink(s Sink) RecorderOption {
	return func(r *Recorder) { r.sink = s }
}

// WithWriteTimeout bounds each store write attempt.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithNotifyTimeout bounds each notification attempt.
func WithNotifyTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.notifyTimeout = d
		}
	}
}

// WithRecorderClock overrides the time source, for tests.
func WithRecorderClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         store,
		writeTimeout:  defaultWriteTimeout,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an event. The write runs under its own timeout detached
// from the request context, so a cancelled request cannot abort it and a
// slow store cannot block the response past the ceiling. Warning and error
// events are additionally forwarded to the sink, best effort.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	err := r.store.Insert(wctx, &e)
	if err != nil {
		err = r.store.Insert(wctx, &e)
	}
	if err != nil {
		obs.CountAuditWriteFailure()
		r.fallback(e, err)
	}

	if e.Severity != SeverityInfo {
		go r.notify(e)
	}
}

// Query returns one page of matching events, newest first.
func (r *Recorder) Query(ctx context.Context, q Query) ([]Event, Pagination, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	events, total, err := r.store.Find(ctx, q)
	if err != nil {
		return nil, Pagination{}, err
	}
	totalPages := (total + q.Limit - 1) / q.Limit
	return events, Pagination{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    q.Page*q.Limit < total,
		HasPrev:    q.Page > 1,
	}, nil
}

// Purge deletes exactly the events matching the filter. An empty filter is
// rejected before any store call; there is no unscoped wipe.
func (r *Recorder) Purge(ctx context.Context, f PurgeFilter) (int64, error) {
	if f.Empty() {
		return 0, ErrUnscopedPurge
	}
	return r.store.DeleteMany(ctx, f)
}

// notify forwards one event to the external sink. Failures are counted and
// debug-logged locally, never surfaced, so a broken sink cannot start a
// notification-failure loop.
func (r *Recorder) notify(e Event) {
	if r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
	defer cancel()
	if err := r.sink.Send(ctx, e); err != nil {
		obs.CountNotifyFailure()
		obs.LogJSON(map[string]any{
			"ts":    r.now().UTC().Format(time.RFC3339Nano),
			"level": "debug",
			"msg":   "audit notification failed",
			"event": e.Action,
			"error": err.Error(),
		})
	}
}

// fallback writes the event as a local JSON line when the store is
// unreachable. The trail loses durability but the request proceeds.
func (r *Recorder) fallback(e Event, cause error) {
	obs.LogJSON(map[string]any{
		"ts":       e.Timestamp.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    e.Action,
		"actor_id": e.ActorID,
		"severity": string(e.Severity),
		"detail":   e.Detail,
		"source":   e.SourceAddress,
		"error":    cause.Error(),
	})
}
