package audit

import (
	"context"
	"time"
)

// Action names a reconciliation mutation.
type Action string

const (
	ActionRoleDeactivated         Action = "role.deactivated"
	ActionRoleActivated           Action = "role.activated"
	ActionRoleCreated             Action = "role.created"
	ActionAssignmentDuplicateDrop Action = "assignment.duplicate_deleted"
	ActionLedgerEntryPosted       Action = "ledger.recurring_posted"
	ActionReferenceBackfilled     Action = "reference.backfilled"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Action    Action         `json:"action"`
	Subject   string         `json:"subject"`
	SubjectID string         `json:"subject_id"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows ListEntries. Zero values match everything.
type Filter struct {
	RunID  string
	Action Action
	Limit  int
}

// Repository persists audit entries.
type Repository interface {
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, filter Filter) ([]Entry, error)
}

// Publisher forwards recorded entries to an event stream.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
}

// Recorder is what reconciliation services depend on.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type discard struct{}

func (discard) Record(context.Context, Entry) error { return nil }

// Discard drops every entry.
var Discard Recorder = discard{}
