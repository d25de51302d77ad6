package roles

import (
	"context"
	"time"

	"github.com/odyssey-erp/reconciler/internal/canon"
	"github.com/odyssey-erp/reconciler/internal/platform/db"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

var _ Repository = (*PGRepository)(nil)

// ListRoles returns all roles, active or not.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, description, active, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var (
			role      Role
			createdAt *time.Time
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &createdAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.CreatedAt = createdAt
		out = append(out, role)
	}
	return out, rows.Err()
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO roles (id, name, description, active, created_at, updated_at, name_key)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at`,
		role.ID, role.Name, role.Description, role.Active, role.CreatedAt, role.UpdatedAt, role.Key(),
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return Role{}, shared.ErrConflict
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// SetRoleActive updates the active flag when it differs. Reactivation also
// refreshes name_key so rows written by other tools are covered by the guard.
func (r *PGRepository) SetRoleActive(ctx context.Context, id string, active bool) (bool, error) {
	var name string
	err := r.q.QueryRow(ctx, `SELECT name FROM roles WHERE id = $1`, id).Scan(&name)
	if db.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	tag, err := r.q.Exec(ctx, `UPDATE roles SET active = $2, name_key = $3, updated_at = NOW() WHERE id = $1 AND active <> $2`,
		id, active, canon.Canonicalize(name))
	if db.IsUniqueViolation(err) {
		return false, shared.ErrConflict
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
