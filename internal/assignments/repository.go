package assignments

import (
	"context"

	"github.com/odyssey-erp/reconciler/internal/platform/db"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// PGRepository stores assignments in entity_roles.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

var _ Repository = (*PGRepository)(nil)

// InsertAssignment relies on the (entity_id, role_id) unique index: a losing
// concurrent insert returns no row instead of failing.
func (r *PGRepository) InsertAssignment(ctx context.Context, a Assignment) (string, bool, error) {
	rows, err := r.q.Query(ctx, `INSERT INTO entity_roles (id, entity_id, role_id, active, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (entity_id, role_id) DO NOTHING
RETURNING id`, a.ID, a.EntityID, a.RoleID, a.Active, a.CreatedAt)
	if err != nil {
		return "", false, mapWriteError(err)
	}
	defer rows.Close()

	var id string
	inserted := false
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return "", false, err
		}
		inserted = true
	}
	if err := rows.Err(); err != nil {
		return "", false, mapWriteError(err)
	}
	if inserted {
		return id, true, nil
	}
	err = r.q.QueryRow(ctx, `SELECT id FROM entity_roles WHERE entity_id = $1 AND role_id = $2 ORDER BY id LIMIT 1`, a.EntityID, a.RoleID).Scan(&id)
	if err != nil && !db.IsNoRows(err) {
		return "", false, err
	}
	return id, false, nil
}

// DeleteAssignment removes the row for the pair.
func (r *PGRepository) DeleteAssignment(ctx context.Context, entityID, roleID string) (string, bool, error) {
	var id string
	err := r.q.QueryRow(ctx, `DELETE FROM entity_roles WHERE entity_id = $1 AND role_id = $2 RETURNING id`, entityID, roleID).Scan(&id)
	if db.IsNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ListAssignments returns every row.
func (r *PGRepository) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := r.q.Query(ctx, `SELECT id, entity_id, role_id, active, created_at FROM entity_roles ORDER BY entity_id, role_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.EntityID, &a.RoleID, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAssignmentByID removes a single row.
func (r *PGRepository) DeleteAssignmentByID(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM entity_roles WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func mapWriteError(err error) error {
	switch {
	case db.IsForeignKeyViolation(err):
		return shared.ErrNotFound
	case db.IsUniqueViolation(err):
		return shared.ErrConflict
	default:
		return err
	}
}
