package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/odyssey-erp/reconciler/internal/canon"
	"github.com/odyssey-erp/reconciler/internal/roles"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// RoleRepository implements roles.Repository.
type RoleRepository struct {
	db *sql.DB
}

var _ roles.Repository = (*RoleRepository)(nil)

// Roles returns the role repository.
func (s *Store) Roles() *RoleRepository {
	return &RoleRepository{db: s.db}
}

func (r *RoleRepository) ListRoles(ctx context.Context) ([]roles.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, active, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []roles.Role
	for rows.Next() {
		var (
			role      roles.Role
			createdAt sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if role.CreatedAt, err = parseOptionalTime(createdAt); err != nil {
			return nil, err
		}
		if role.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *RoleRepository) CreateRole(ctx context.Context, role roles.Role) (roles.Role, error) {
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = time.Now().UTC()
	}
	var createdAt sql.NullString
	if role.CreatedAt != nil {
		createdAt = sql.NullString{String: formatTime(*role.CreatedAt), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO roles (id, name, description, active, created_at, updated_at, name_key)
VALUES (?, ?, ?, ?, ?, ?, ?)`, role.ID, role.Name, role.Description, boolInt(role.Active), createdAt, formatTime(role.UpdatedAt), role.Key())
	if isUniqueViolation(err) {
		return roles.Role{}, shared.ErrConflict
	}
	if err != nil {
		return roles.Role{}, err
	}
	return role, nil
}

// SetRoleActive refreshes name_key with the flag so rows seeded by other
// tools join the active-name guard once reactivated.
func (r *RoleRepository) SetRoleActive(ctx context.Context, id string, active bool) (bool, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `SELECT name FROM roles WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE roles SET active = ?, name_key = ?, updated_at = ? WHERE id = ? AND active <> ?`,
		boolInt(active), canon.Canonicalize(name), formatTime(time.Now()), id, boolInt(active))
	if isUniqueViolation(err) {
		return false, shared.ErrConflict
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
