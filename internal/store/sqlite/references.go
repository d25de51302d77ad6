package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/odyssey-erp/reconciler/internal/references"
)

// ReferenceRepository implements references.Repository.
type ReferenceRepository struct {
	db *sql.DB
}

var _ references.Repository = (*ReferenceRepository)(nil)

// References returns the legacy reference repository.
func (s *Store) References() *ReferenceRepository {
	return &ReferenceRepository{db: s.db}
}

// Identifiers come from the references allowlist only, so formatting them
// into the statement is safe once Lookup accepts the table.
func checked(t references.Target) (references.Target, error) {
	registered, err := references.Lookup(t.Table)
	if err != nil {
		return references.Target{}, err
	}
	return registered, nil
}

func (r *ReferenceRepository) CountBackfill(ctx context.Context, t references.Target) (references.Counts, error) {
	t, err := checked(t)
	if err != nil {
		return references.Counts{}, err
	}
	query := fmt.Sprintf(`SELECT
	COALESCE(SUM(CASE WHEN e.id IS NOT NULL THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN e.id IS NULL THEN 1 ELSE 0 END), 0)
FROM "%[1]s" t
LEFT JOIN entities e ON e.id = t."%[2]s"
WHERE t."%[3]s" IS NULL AND t."%[2]s" IS NOT NULL`, t.Table, t.LegacyColumn, t.Column)
	var c references.Counts
	if err := r.db.QueryRowContext(ctx, query).Scan(&c.Pending, &c.Dangling); err != nil {
		return references.Counts{}, err
	}
	return c, nil
}

func (r *ReferenceRepository) ApplyBackfill(ctx context.Context, t references.Target) (int64, error) {
	t, err := checked(t)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`UPDATE "%[1]s" SET "%[3]s" = "%[2]s"
WHERE "%[3]s" IS NULL AND "%[2]s" IS NOT NULL AND "%[2]s" IN (SELECT id FROM entities)`, t.Table, t.LegacyColumn, t.Column)
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
