package pg

import (
	"context"
	"database/sql"
	"errors"

	"chatgrid.org/internal/identity"
	"chatgrid.org/internal/users"
)

// UserStore exposes the identity record operations over the shared pool.
type UserStore struct {
	s *Store
}

var _ users.Store = (*UserStore)(nil)

// Users returns the user store view.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

const userColumns = `id, display_name, role, password_hash, is_active, message_count, last_reset, created_at, updated_at`

func (u *UserStore) Create(ctx context.Context, rec *users.User) error {
	_, err := u.s.db.ExecContext(ctx, `
		insert into users (id, display_name, role, password_hash, is_active, message_count, last_reset, created_at, updated_at)
		values ($1, $2, $3, $4, $5, 0, $6, $6, $6)
	`, rec.ID, rec.DisplayName, string(rec.Role), rec.PasswordHash, rec.IsActive, rec.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return users.ErrConflict
		}
		return err
	}
	return nil
}

func (u *UserStore) Find(ctx context.Context, id string) (users.User, error) {
	row := u.s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where id = $1
	`, id)
	return scanUser(row)
}

func (u *UserStore) FindByDisplayName(ctx context.Context, name string) (users.User, error) {
	row := u.s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where lower(display_name) = lower($1)
	`, name)
	return scanUser(row)
}

func (u *UserStore) List(ctx context.Context, page, limit int) ([]users.User, int, error) {
	var total int
	if err := u.s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := u.s.db.QueryContext(ctx, `
		select `+userColumns+` from users
		order by id
		limit $1 offset $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []users.User{}
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (u *UserStore) UpdateRole(ctx context.Context, id string, role identity.Role) (users.User, error) {
	row := u.s.db.QueryRowContext(ctx, `
		update users set role = $2, updated_at = now()
		where id = $1
		returning `+userColumns+`
	`, id, string(role))
	return scanUser(row)
}

func (u *UserStore) Delete(ctx context.Context, id string) error {
	res, err := u.s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return users.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (users.User, error) {
	var (
		rec  users.User
		role string
	)
	err := row.Scan(&rec.ID, &rec.DisplayName, &role, &rec.PasswordHash, &rec.IsActive,
		&rec.MessageCount, &rec.LastReset, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, users.ErrNotFound
	}
	if err != nil {
		return users.User{}, err
	}
	rec.Role = identity.ParseRole(role)
	return rec, nil
}
