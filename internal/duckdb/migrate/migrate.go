// Package migrate applies the embedded, versioned schema migrations for
// the insight database.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Runner applies versioned SQL migrations to a DuckDB database.
type Runner struct{ db *sql.DB }

// NewRunner creates a migration runner for the given database connection.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

type migration struct {
	version int
	name    string
	stmts   string
}

// loadMigrations reads the embedded migrations, sorted by version. File
// names follow NNN_description.sql.
func loadMigrations() ([]migration, error) {
	paths, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing embedded migrations: %w", err)
	}

	migs := make([]migration, 0, len(paths))
	for _, path := range paths {
		name := strings.TrimPrefix(path, "migrations/")
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("parsing version from %s: %w", name, err)
		}
		data, err := migrationFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		migs = append(migs, migration{version: ver, name: name, stmts: string(data)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}

func (r *Runner) bootstrap() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	return err
}

func (r *Runner) appliedVersion() (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// Run applies all pending migrations in order. Each migration executes
// in its own transaction and is recorded in schema_migrations.
func (r *Runner) Run() error {
	if err := r.bootstrap(); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	migs, err := loadMigrations()
	if err != nil {
		return err
	}

	current, err := r.appliedVersion()
	if err != nil {
		return fmt.Errorf("reading applied version: %w", err)
	}

	for _, m := range migs {
		if m.version <= current {
			continue
		}
		if err := r.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) apply(m migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.name, err)
	}
	if _, err := tx.Exec(m.stmts); err != nil {
		tx.Rollback()
		return fmt.Errorf("executing %s: %w", m.name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.name, err)
	}
	return nil
}

// Status returns the current applied version and the count of pending
// migrations.
func (r *Runner) Status() (current int, pending int, err error) {
	if err = r.bootstrap(); err != nil {
		return 0, 0, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	current, err = r.appliedVersion()
	if err != nil {
		return 0, 0, fmt.Errorf("reading applied version: %w", err)
	}

	migs, err := loadMigrations()
	if err != nil {
		return 0, 0, err
	}

	for _, m := range migs {
		if m.version > current {
			pending++
		}
	}
	return current, pending, nil
}
