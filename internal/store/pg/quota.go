package pg

import (
	"context"
	"time"

	"chatgrid.org/internal/quota"
)

// QuotaStore applies consumption attempts with a row lock, so concurrent
// requests for one key serialize at the database and multiple service
// instances stay correct without any in-process coordination.
type QuotaStore struct {
	s *Store
}

var _ quota.Store = (*QuotaStore)(nil)

// Quota returns the quota store view.
func (s *Store) Quota() *QuotaStore { return &QuotaStore{s: s} }

func (q *QuotaStore) Consume(ctx context.Context, key string, limit int, now time.Time) (quota.Record, bool, error) {
	tx, err := q.s.db.BeginTx(ctx, nil)
	if err != nil {
		return quota.Record{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Ensure the row exists, then lock it for the read-check-increment.
	if _, err := tx.ExecContext(ctx, `
		insert into quota_usage (key, count, window_start)
		values ($1, 0, $2) on conflict (key) do nothing
	`, key, now); err != nil {
		return quota.Record{}, false, err
	}

	rec := quota.Record{Key: key}
	if err := tx.QueryRowContext(ctx, `
		select count, window_start from quota_usage where key = $1 for update
	`, key).Scan(&rec.Count, &rec.WindowStart); err != nil {
		return quota.Record{}, false, err
	}

	allowed := quota.Apply(&rec, limit, now)

	if _, err := tx.ExecContext(ctx, `
		update quota_usage set count = $2, window_start = $3 where key = $1
	`, key, rec.Count, rec.WindowStart); err != nil {
		return quota.Record{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return quota.Record{}, false, err
	}
	return rec, allowed, nil
}
