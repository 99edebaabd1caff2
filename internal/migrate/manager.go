package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultTable = "schema_migrations"

// Manager executes SQL migration files stored on disk, tracking applied
// files in a bookkeeping table.
type Manager struct {
	db    *sql.DB
	dir   string
	table string
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, dir string) *Manager {
	return &Manager{db: db, dir: dir, table: defaultTable}
}

// Up applies all pending migrations in lexical order.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.dir, ".up.sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f] {
			continue
		}
		if err := m.exec(ctx, filepath.Join(m.dir, f)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := m.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s (name) values ($1)`, m.table), f); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	history, err := m.history(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("no migrations applied")
	}
	last := history[len(history)-1]
	downPath := strings.TrimSuffix(filepath.Join(m.dir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.exec(ctx, downPath); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.table), last)
	return err
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.table))
	return err
}

func (m *Manager) applied(ctx context.Context) (map[string]bool, error) {
	history, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(history))
	for _, name := range history {
		set[name] = true
	}
	return set, nil
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by name`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Manager) exec(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, string(content))
	return err
}

func collectSQL(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
