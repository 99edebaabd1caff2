package pg

import (
	"context"
	"fmt"
	"strings"

	"chatgrid.org/internal/audit"
)

// AuditStore persists audit events. Events are append-only; the only write
// after insert is the filtered bulk delete.
type AuditStore struct {
	s *Store
}

var _ audit.Store = (*AuditStore)(nil)

// Audit returns the audit store view.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

func (a *AuditStore) Insert(ctx context.Context, e *audit.Event) error {
	_, err := a.s.db.ExecContext(ctx, `
		insert into audit_events (id, actor_id, actor_name, action, target_id, target_name, detail, severity, ts, source_address)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ActorID, e.ActorName, e.Action, e.TargetID, e.TargetName, e.Detail, string(e.Severity), e.Timestamp, e.SourceAddress)
	return err
}

func (a *AuditStore) Find(ctx context.Context, q audit.Query) ([]audit.Event, int, error) {
	where, args := auditFilterClauses(q)

	var total int
	countQuery := `select count(*) from audit_events` + where
	if err := a.s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageArgs := append(args, q.Limit, (q.Page-1)*q.Limit)
	rows, err := a.s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, actor_id, actor_name, action, target_id, target_name, detail, severity, ts, source_address
		from audit_events`+where+`
		order by ts desc, id desc
		limit $%d offset $%d
	`, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		var (
			e   audit.Event
			sev string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.TargetID,
			&e.TargetName, &e.Detail, &sev, &e.Timestamp, &e.SourceAddress); err != nil {
			return nil, 0, err
		}
		e.Severity = audit.Severity(sev)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (a *AuditStore) DeleteMany(ctx context.Context, f audit.PurgeFilter) (int64, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		clauses = append(clauses, fmt.Sprintf("severity = $%d", len(args)))
	}
	if f.OlderThan != nil {
		args = append(args, *f.OlderThan)
		clauses = append(clauses, fmt.Sprintf("ts < $%d", len(args)))
	}
	if len(clauses) == 0 {
		// The recorder rejects this earlier; refuse here as well.
		return 0, audit.ErrUnscopedPurge
	}
	res, err := a.s.db.ExecContext(ctx, `delete from audit_events where `+strings.Join(clauses, " and "), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func auditFilterClauses(q audit.Query) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.Severity != "" {
		args = append(args, string(q.Severity))
		clauses = append(clauses, fmt.Sprintf("severity = $%d", len(args)))
	}
	if q.Action != "" {
		args = append(args, "%"+q.Action+"%")
		clauses = append(clauses, fmt.Sprintf("action ilike $%d", len(args)))
	}
	if q.ActorOrTargetID != "" {
		args = append(args, q.ActorOrTargetID)
		clauses = append(clauses, fmt.Sprintf("(actor_id = $%d or target_id = $%d)", len(args), len(args)))
	}
	if q.From != nil {
		args = append(args, *q.From)
		clauses = append(clauses, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		clauses = append(clauses, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " where " + strings.Join(clauses, " and "), args
}
