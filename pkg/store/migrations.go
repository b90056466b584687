package store

import (
	stdsql "database/sql"
	"fmt"
	"strings"
)

// migration is one additive, idempotent schema change applied after the base schema.
// Migrations never rewrite or drop a column — only ADD COLUMN, CREATE TABLE IF NOT
// EXISTS, or CREATE INDEX IF NOT EXISTS — so replaying the full set against an
// already-migrated database is always a no-op.
type migration struct {
	name string
	stmt string
}

// migrations lists every schema change applied after schema.sql's initial tables, in
// order. New entries are appended here; schema.sql itself is only ever touched to adjust
// the shape a brand-new database starts with.
var migrations = []migration{
	// Reserved for future additive changes, e.g.:
	// {name: "add_workspaces_idle_terminate", stmt: "ALTER TABLE workspaces ADD COLUMN idle_terminate INTEGER NOT NULL DEFAULT 0"},
}

// runMigrations applies every migration not yet recorded in schema_meta, in order, inside
// a single transaction per migration so a crash mid-run leaves the ledger consistent.
func runMigrations(db *stdsql.DB) error {
	applied, err := appliedMigrations(db)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
	}
	return nil
}

func appliedMigrations(db *stdsql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT value FROM schema_meta WHERE key = 'migration'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *stdsql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(m.stmt, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO schema_meta (key, value) VALUES ('migration', ?)`, m.name); err != nil {
		return err
	}

	return tx.Commit()
}
