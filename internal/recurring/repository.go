package recurring

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/reconciler/internal/platform/db"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// PGRepository reads recurring_bills and writes ap_installments.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

var _ Repository = (*PGRepository)(nil)

const selectDefinition = `SELECT rb.id, rb.name, COALESCE(rb.entity_id, ''), COALESCE(e.name, ''),
	COALESCE(rb.category_id, ''), COALESCE(c.name, ''), rb.expected_amount::text, rb.due_day,
	COALESCE(rb.branch_id, ''), rb.active, rb.open_ended, rb.end_date, rb.notes
FROM recurring_bills rb
LEFT JOIN entities e ON e.id = rb.entity_id
LEFT JOIN categories c ON c.id = rb.category_id`

// GetDefinition loads one definition with its supplier and category names.
func (r *PGRepository) GetDefinition(ctx context.Context, id string) (Definition, error) {
	rows, err := r.q.Query(ctx, selectDefinition+` WHERE rb.id = $1`, id)
	if err != nil {
		return Definition{}, err
	}
	defs, err := collectDefinitions(rows)
	if err != nil {
		return Definition{}, err
	}
	if len(defs) == 0 {
		return Definition{}, shared.ErrNotFound
	}
	return defs[0], nil
}

// ListActiveDefinitions returns active definitions ordered by id.
func (r *PGRepository) ListActiveDefinitions(ctx context.Context) ([]Definition, error) {
	rows, err := r.q.Query(ctx, selectDefinition+` WHERE rb.active ORDER BY rb.id`)
	if err != nil {
		return nil, err
	}
	return collectDefinitions(rows)
}

func collectDefinitions(rows pgx.Rows) ([]Definition, error) {
	defer rows.Close()
	var out []Definition
	for rows.Next() {
		var (
			def    Definition
			amount string
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.EntityID, &def.EntityName, &def.CategoryID, &def.CategoryName,
			&amount, &def.DueDay, &def.BranchID, &def.Active, &def.OpenEnded, &def.EndDate, &def.Notes); err != nil {
			return nil, err
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("recurring: definition %s amount %q: %w", def.ID, amount, err)
		}
		def.ExpectedAmount = parsed
		out = append(out, def)
	}
	return out, rows.Err()
}

// RecurringEntryExists checks for a recurring-origin entry on (entity, due date).
func (r *PGRepository) RecurringEntryExists(ctx context.Context, entityID string, dueDate time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM ap_installments WHERE entity_id = $1 AND due_date = $2 AND recurring_origin
)`, entityID, dueDate).Scan(&exists)
	return exists, err
}

// InsertEntry writes the entry; the recurring unique index turns a lost race into shared.ErrConflict.
func (r *PGRepository) InsertEntry(ctx context.Context, e LedgerEntry) error {
	_, err := r.q.Exec(ctx, `INSERT INTO ap_installments (
	id, description, entity_id, entity_name, amount, total_amount, due_date, issue_date, category, status,
	installment_number, total_installments, recurring_origin, recurring_definition_id, branch_id, notes,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), $16, $17, $18)`,
		e.ID, e.Description, e.EntityID, e.EntityName, e.Amount.String(), e.TotalAmount.String(), e.DueDate, e.IssueDate,
		e.Category, string(e.Status), e.InstallmentNumber, e.TotalInstallments, e.RecurringOrigin, e.RecurringDefinitionID,
		e.BranchID, e.Notes, e.CreatedAt, e.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return shared.ErrConflict
	}
	return err
}
