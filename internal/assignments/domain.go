package assignments

import (
	"context"
	"time"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Action selects what Upsert does with the pair.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Status is the outcome of Upsert.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAlreadyExists Status = "already_exists"
	StatusRemoved       Status = "removed"
	StatusNotFound      Status = "not_found"
)

// Assignment links an entity to a role.
type Assignment struct {
	ID        string
	EntityID  string
	RoleID    string
	Active    bool
	CreatedAt time.Time
}

// Result reports the outcome of Upsert.
type Result struct {
	Status       Status `json:"status"`
	AssignmentID string `json:"assignment_id,omitempty"`
}

// Repository persists assignments. The (entity_id, role_id) pair is unique in
// storage; implementations must not emulate that with a read before the write.
type Repository interface {
	// InsertAssignment returns inserted=false when the pair already exists.
	// A missing entity or role yields shared.ErrNotFound.
	InsertAssignment(ctx context.Context, a Assignment) (id string, inserted bool, err error)
	// DeleteAssignment returns removed=false when no row matched.
	DeleteAssignment(ctx context.Context, entityID, roleID string) (id string, removed bool, err error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
	DeleteAssignmentByID(ctx context.Context, id string) (bool, error)
}

// DedupeOptions configures the legacy duplicate cleanup.
type DedupeOptions struct {
	Mode shared.RunMode
}

// DuplicateGroup lists rows sharing one pair.
type DuplicateGroup struct {
	EntityID string   `json:"entity_id"`
	RoleID   string   `json:"role_id"`
	KeptID   string   `json:"kept_id"`
	Dropped  []string `json:"dropped_ids"`
}

// DedupeReport summarises the cleanup.
type DedupeReport struct {
	Mode    shared.RunMode   `json:"mode"`
	Scanned int              `json:"scanned"`
	Groups  []DuplicateGroup `json:"groups"`
	Deleted int              `json:"deleted"`
}

// Pending reports whether duplicates were found.
func (r DedupeReport) Pending() bool {
	return len(r.Groups) > 0
}
