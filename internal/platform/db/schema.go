package db

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/reconciler/internal/canon"
)

// Schema holds the DDL the reconciler depends on. Every statement is
// idempotent so Migrate can run on each start.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		name_key    TEXT
	)`,
	`ALTER TABLE roles ADD COLUMN IF NOT EXISTS name_key TEXT`,
	`DROP INDEX IF EXISTS idx_roles_active_name`,
	`CREATE TABLE IF NOT EXISTS entity_roles (
		id         TEXT PRIMARY KEY,
		entity_id  TEXT NOT NULL REFERENCES entities(id),
		role_id    TEXT NOT NULL REFERENCES roles(id),
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
		expected_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		due_day         INTEGER,
		branch_id       TEXT,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		open_ended      BOOLEAN NOT NULL DEFAULT FALSE,
		end_date        DATE,
		notes           TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS ap_installments (
		id                      TEXT PRIMARY KEY,
		description             TEXT NOT NULL,
		entity_id               TEXT REFERENCES entities(id),
		entity_name             TEXT NOT NULL DEFAULT '',
		amount                  NUMERIC(14,2) NOT NULL,
		total_amount            NUMERIC(14,2) NOT NULL,
		due_date                DATE NOT NULL,
		issue_date              DATE NOT NULL,
		category                TEXT NOT NULL,
		status                  TEXT NOT NULL DEFAULT 'open',
		installment_number      INTEGER NOT NULL DEFAULT 1,
		total_installments      INTEGER NOT NULL DEFAULT 1,
		recurring_origin        BOOLEAN NOT NULL DEFAULT FALSE,
		recurring_definition_id TEXT,
		branch_id               TEXT,
		notes                   TEXT NOT NULL DEFAULT '',
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
		detail     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconcile_audit_run ON reconcile_audit (run_id, created_at)`,
}

// Guards are the uniqueness constraints the idempotent operations rely on.
// They are kept apart from Schema because legacy data must be deduplicated
// before they can be created.
var Guards = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_active_key ON roles (name_key) WHERE active`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_roles_unique ON entity_roles (entity_id, role_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ap_installments_recurring_due ON ap_installments (entity_id, due_date) WHERE recurring_origin`,
}

// Migrate applies Schema, fills roles.name_key for rows written without it
// and, when withGuards is set, applies Guards.
func Migrate(ctx context.Context, q Querier, withGuards bool) error {
	for _, stmt := range Schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: migrate: %w", err)
		}
	}
	if err := BackfillRoleKeys(ctx, q); err != nil {
		return err
	}
	if !withGuards {
		return nil
	}
	for _, stmt := range Guards {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: migrate: %w", err)
		}
	}
	return nil
}

// BackfillRoleKeys writes canon.Canonicalize(name) into roles.name_key where
// it is missing. The active-name guard indexes that column.
func BackfillRoleKeys(ctx context.Context, q Querier) error {
	rows, err := q.Query(ctx, `SELECT id, name FROM roles WHERE name_key IS NULL`)
	if err != nil {
		return fmt.Errorf("platform/db: role keys: %w", err)
	}
	type pending struct{ id, key string }
	var todo []pending
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("platform/db: role keys: %w", err)
		}
		todo = append(todo, pending{id: id, key: canon.Canonicalize(name)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("platform/db: role keys: %w", err)
	}
	for _, p := range todo {
		if _, err := q.Exec(ctx, `UPDATE roles SET name_key = $2 WHERE id = $1`, p.id, p.key); err != nil {
			return fmt.Errorf("platform/db: role keys: %w", err)
		}
	}
	return nil
}
