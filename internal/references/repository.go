package references

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/reconciler/internal/platform/db"
)

// PGRepository runs the backfill against PostgreSQL.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

var _ Repository = (*PGRepository)(nil)

type quoted struct {
	table, legacy, column string
}

func quote(t Target) (quoted, error) {
	if _, err := Lookup(t.Table); err != nil {
		return quoted{}, err
	}
	return quoted{
		table:  pgx.Identifier{t.Table}.Sanitize(),
		legacy: pgx.Identifier{t.LegacyColumn}.Sanitize(),
		column: pgx.Identifier{t.Column}.Sanitize(),
	}, nil
}

// CountBackfill counts pending and dangling rows for target.
func (r *PGRepository) CountBackfill(ctx context.Context, t Target) (Counts, error) {
	q, err := quote(t)
	if err != nil {
		return Counts{}, err
	}
	sql := fmt.Sprintf(`SELECT
	COUNT(*) FILTER (WHERE e.id IS NOT NULL),
	COUNT(*) FILTER (WHERE e.id IS NULL)
FROM %[1]s t
LEFT JOIN entities e ON e.id = t.%[2]s
WHERE t.%[3]s IS NULL AND t.%[2]s IS NOT NULL`, q.table, q.legacy, q.column)
	var c Counts
	if err := r.q.QueryRow(ctx, sql).Scan(&c.Pending, &c.Dangling); err != nil {
		return Counts{}, err
	}
	return c, nil
}

// ApplyBackfill copies the legacy value where the entity exists.
func (r *PGRepository) ApplyBackfill(ctx context.Context, t Target) (int64, error) {
	q, err := quote(t)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`UPDATE %[1]s SET %[3]s = %[2]s
WHERE %[3]s IS NULL AND %[2]s IS NOT NULL AND %[2]s IN (SELECT id FROM entities)`, q.table, q.legacy, q.column)
	tag, err := r.q.Exec(ctx, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
