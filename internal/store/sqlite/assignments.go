package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/odyssey-erp/reconciler/internal/assignments"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// AssignmentRepository implements assignments.Repository.
type AssignmentRepository struct {
	db *sql.DB
}

var _ assignments.Repository = (*AssignmentRepository)(nil)

// Assignments returns the assignment repository.
func (s *Store) Assignments() *AssignmentRepository {
	return &AssignmentRepository{db: s.db}
}

func (r *AssignmentRepository) InsertAssignment(ctx context.Context, a assignments.Assignment) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `INSERT INTO entity_roles (id, entity_id, role_id, active, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (entity_id, role_id) DO NOTHING
RETURNING id`, a.ID, a.EntityID, a.RoleID, boolInt(a.Active), formatTime(a.CreatedAt)).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
	case isForeignKeyViolation(err):
		return "", false, shared.ErrNotFound
	case isUniqueViolation(err):
		return "", false, shared.ErrConflict
	default:
		return "", false, err
	}

	err = r.db.QueryRowContext(ctx, `SELECT id FROM entity_roles WHERE entity_id = ? AND role_id = ? ORDER BY id LIMIT 1`,
		a.EntityID, a.RoleID).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}
	return id, false, nil
}

func (r *AssignmentRepository) DeleteAssignment(ctx context.Context, entityID, roleID string) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `DELETE FROM entity_roles WHERE entity_id = ? AND role_id = ? RETURNING id`, entityID, roleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *AssignmentRepository) ListAssignments(ctx context.Context) ([]assignments.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, entity_id, role_id, active, created_at FROM entity_roles ORDER BY entity_id, role_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assignments.Assignment
	for rows.Next() {
		var (
			a         assignments.Assignment
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.EntityID, &a.RoleID, &a.Active, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AssignmentRepository) DeleteAssignmentByID(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entity_roles WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
