package sqlite

import (
	"context"
	"database/sql"

	"github.com/odyssey-erp/reconciler/internal/canon"
)

// schema mirrors platform/db.Schema in SQLite types.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT,
		updated_at  TEXT NOT NULL,
		name_key    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS entity_roles (
		id         TEXT PRIMARY KEY,
		entity_id  TEXT NOT NULL REFERENCES entities(id),
		role_id    TEXT NOT NULL REFERENCES roles(id),
		active     INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recurring_bills (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		entity_id       TEXT REFERENCES entities(id),
		category_id     TEXT REFERENCES categories(id),
		expected_amount TEXT NOT NULL DEFAULT '0',
		due_day         INTEGER,
		branch_id       TEXT,
		active          INTEGER NOT NULL DEFAULT 1,
		open_ended      INTEGER NOT NULL DEFAULT 0,
		end_date        TEXT,
		notes           TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS ap_installments (
		id                      TEXT PRIMARY KEY,
		description             TEXT NOT NULL,
		entity_id               TEXT REFERENCES entities(id),
		entity_name             TEXT NOT NULL DEFAULT '',
		amount                  TEXT NOT NULL,
		total_amount            TEXT NOT NULL,
		due_date                TEXT NOT NULL,
		issue_date              TEXT NOT NULL,
		category                TEXT NOT NULL,
		status                  TEXT NOT NULL DEFAULT 'open',
		installment_number      INTEGER NOT NULL DEFAULT 1,
		total_installments      INTEGER NOT NULL DEFAULT 1,
		recurring_origin        INTEGER NOT NULL DEFAULT 0,
		recurring_definition_id TEXT,
		branch_id               TEXT,
		notes                   TEXT NOT NULL DEFAULT '',
		created_at              TEXT NOT NULL,
		updated_at              TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		supplier_id TEXT,
		entity_id   TEXT REFERENCES entities(id)
	)`,
	`CREATE TABLE IF NOT EXISTS brands (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		supplier_id TEXT,
		entity_id   TEXT REFERENCES entities(id)
	)`,
	`CREATE TABLE IF NOT EXISTS reconcile_audit (
		id         TEXT PRIMARY KEY,
		run_id     TEXT NOT NULL,
		action     TEXT NOT NULL,
		subject    TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconcile_audit_run ON reconcile_audit (run_id, created_at)`,
}

var guards = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_active_key ON roles (name_key) WHERE active = 1`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_roles_unique ON entity_roles (entity_id, role_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ap_installments_recurring_due ON ap_installments (entity_id, due_date) WHERE recurring_origin = 1`,
}

// migrate applies schema, upgrades role rows to carry name_key and, unless
// skipGuards is set, creates the unique indexes.
func migrate(ctx context.Context, db *sql.DB, skipGuards bool) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	var hasKey int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info('roles') WHERE name = 'name_key'`).Scan(&hasKey); err != nil {
		return err
	}
	if hasKey == 0 {
		if _, err := db.ExecContext(ctx, `ALTER TABLE roles ADD COLUMN name_key TEXT`); err != nil {
			return err
		}
	}
	if _, err := db.ExecContext(ctx, `DROP INDEX IF EXISTS idx_roles_active_name`); err != nil {
		return err
	}
	if err := backfillRoleKeys(ctx, db); err != nil {
		return err
	}
	if skipGuards {
		return nil
	}
	for _, stmt := range guards {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SQLite lower() folds ASCII only, so the key is computed in Go.
func backfillRoleKeys(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM roles WHERE name_key IS NULL`)
	if err != nil {
		return err
	}
	keys := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return err
		}
		keys[id] = canon.Canonicalize(name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for id, key := range keys {
		if _, err := db.ExecContext(ctx, `UPDATE roles SET name_key = ? WHERE id = ?`, key, id); err != nil {
			return err
		}
	}
	return nil
}
