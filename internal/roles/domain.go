package roles

import (
	"context"
	"time"

	"github.com/odyssey-erp/reconciler/internal/canon"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Role represents a named role entities can be assigned to.
type Role struct {
	ID          string
	Name        string
	Description string
	Active      bool
	// CreatedAt is nil for legacy rows imported without a timestamp.
	CreatedAt *time.Time
	UpdatedAt time.Time
}

// Key returns the canonical key of the role name.
func (r Role) Key() string {
	return canon.Canonicalize(r.Name)
}

// Group describes one canonical key that held more than one record.
type Group struct {
	Key        string   `json:"key"`
	SurvivorID string   `json:"survivor_id"`
	LoserIDs   []string `json:"loser_ids"`
}

// Result partitions the input of Reconcile into survivors and losers.
type Result struct {
	Survivors map[string]struct{}
	Losers    map[string]struct{}
	// Groups lists only keys with duplicates, sorted by key.
	Groups []Group
}

// IsLoser reports whether id lost its group.
func (r Result) IsLoser(id string) bool {
	_, ok := r.Losers[id]
	return ok
}

// Repository defines data access methods for roles.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	// CreateRole returns shared.ErrConflict when an active role with the same key exists.
	CreateRole(ctx context.Context, role Role) (Role, error)
	// SetRoleActive flips the active flag and reports whether the row changed.
	SetRoleActive(ctx context.Context, id string, active bool) (bool, error)
}

// DedupeOptions configures a duplicate role pass.
type DedupeOptions struct {
	Mode shared.RunMode
}

// DedupeReport summarises a duplicate role pass.
type DedupeReport struct {
	Mode        shared.RunMode `json:"mode"`
	Scanned     int            `json:"scanned"`
	Groups      []Group        `json:"groups"`
	Deactivated []string       `json:"deactivated"`
	Reactivated []string       `json:"reactivated,omitempty"`
}

// Pending reports whether the pass found (or made) changes.
func (r DedupeReport) Pending() bool {
	return len(r.Deactivated) > 0 || len(r.Reactivated) > 0
}

// EnsureStatus is the outcome for one baseline role.
type EnsureStatus string

const (
	EnsureCreated       EnsureStatus = "created"
	EnsureActivated     EnsureStatus = "activated"
	EnsureAlreadyExists EnsureStatus = "already_exists"
)

// EnsureOutcome reports what happened to a baseline role.
type EnsureOutcome struct {
	Name   string       `json:"name"`
	Status EnsureStatus `json:"status"`
	RoleID string       `json:"role_id,omitempty"`
}

// EnsureOptions configures EnsureRoles.
type EnsureOptions struct {
	Mode  shared.RunMode
	Names []string
}

// EnsureReport summarises EnsureRoles.
type EnsureReport struct {
	Mode     shared.RunMode  `json:"mode"`
	Outcomes []EnsureOutcome `json:"outcomes"`
}

// Pending reports whether any baseline role was (or would be) touched.
func (r EnsureReport) Pending() bool {
	for _, o := range r.Outcomes {
		if o.Status != EnsureAlreadyExists {
			return true
		}
	}
	return false
}

// BaselineRoles are the roles every installation is expected to carry.
var BaselineRoles = []string{"Funcionário", "Vendedor", "Vendedora", "Fornecedor", "Cliente"}
