package recurring

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Definition is a recurring bill template owned by a supplier entity.
type Definition struct {
	ID             string          `json:"id"`
	Name           string          `json:"name" validate:"required"`
	EntityID       string          `json:"entity_id" validate:"required"`
	EntityName     string          `json:"entity_name,omitempty"`
	CategoryID     string          `json:"category_id,omitempty"`
	CategoryName   string          `json:"category_name,omitempty"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	// DueDay is nil when the source row left it empty.
	DueDay    *int       `json:"due_day" validate:"required,min=1,max=31"`
	BranchID  string     `json:"branch_id,omitempty"`
	Active    bool       `json:"active"`
	OpenEnded bool       `json:"open_ended"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// EntryStatus tracks the settlement lifecycle of a ledger entry.
type EntryStatus string

const (
	EntryOpen     EntryStatus = "open"
	EntrySettled  EntryStatus = "settled"
	EntryCanceled EntryStatus = "canceled"
)

// LedgerEntry is one dated payable installment.
type LedgerEntry struct {
	ID                    string          `json:"id"`
	Description           string          `json:"description"`
	EntityID              string          `json:"entity_id"`
	EntityName            string          `json:"entity_name"`
	Amount                decimal.Decimal `json:"amount"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	DueDate               time.Time       `json:"due_date"`
	IssueDate             time.Time       `json:"issue_date"`
	Category              string          `json:"category"`
	Status                EntryStatus     `json:"status"`
	InstallmentNumber     int             `json:"installment_number"`
	TotalInstallments     int             `json:"total_installments"`
	RecurringOrigin       bool            `json:"recurring_origin"`
	RecurringDefinitionID string          `json:"recurring_definition_id,omitempty"`
	BranchID              string          `json:"branch_id,omitempty"`
	Notes                 string          `json:"notes"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// PostStatus is the outcome of posting one definition.
type PostStatus string

const (
	StatusPosted        PostStatus = "posted"
	StatusAlreadyPosted PostStatus = "already_posted"
	StatusNotFound      PostStatus = "not_found"
	StatusSkipped       PostStatus = "skipped"
	StatusWouldPost     PostStatus = "would_post"
	StatusFailed        PostStatus = "failed"
)

// PostResult reports the outcome of PostCurrentPeriod.
type PostResult struct {
	DefinitionID string       `json:"definition_id"`
	Status       PostStatus   `json:"status"`
	DueDate      time.Time    `json:"due_date,omitempty"`
	Entry        *LedgerEntry `json:"entry,omitempty"`
}

// Repository reads definitions and writes ledger entries.
type Repository interface {
	// GetDefinition returns shared.ErrNotFound when id is unknown.
	GetDefinition(ctx context.Context, id string) (Definition, error)
	ListActiveDefinitions(ctx context.Context) ([]Definition, error)
	RecurringEntryExists(ctx context.Context, entityID string, dueDate time.Time) (bool, error)
	// InsertEntry returns shared.ErrConflict when the recurring unique index rejects the row.
	InsertEntry(ctx context.Context, entry LedgerEntry) error
}
