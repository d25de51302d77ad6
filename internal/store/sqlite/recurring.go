package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/reconciler/internal/recurring"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// RecurringRepository implements recurring.Repository.
type RecurringRepository struct {
	db *sql.DB
}

var _ recurring.Repository = (*RecurringRepository)(nil)

// Recurring returns the recurring definitions and ledger repository.
func (s *Store) Recurring() *RecurringRepository {
	return &RecurringRepository{db: s.db}
}

const selectDefinition = `SELECT rb.id, rb.name, COALESCE(rb.entity_id, ''), COALESCE(e.name, ''),
	COALESCE(rb.category_id, ''), COALESCE(c.name, ''), rb.expected_amount, rb.due_day,
	COALESCE(rb.branch_id, ''), rb.active, rb.open_ended, rb.end_date, rb.notes
FROM recurring_bills rb
LEFT JOIN entities e ON e.id = rb.entity_id
LEFT JOIN categories c ON c.id = rb.category_id`

func (r *RecurringRepository) GetDefinition(ctx context.Context, id string) (recurring.Definition, error) {
	defs, err := r.query(ctx, selectDefinition+` WHERE rb.id = ?`, id)
	if err != nil {
		return recurring.Definition{}, err
	}
	if len(defs) == 0 {
		return recurring.Definition{}, shared.ErrNotFound
	}
	return defs[0], nil
}

func (r *RecurringRepository) ListActiveDefinitions(ctx context.Context) ([]recurring.Definition, error) {
	return r.query(ctx, selectDefinition+` WHERE rb.active = 1 ORDER BY rb.id`)
}

func (r *RecurringRepository) query(ctx context.Context, query string, args ...any) ([]recurring.Definition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recurring.Definition
	for rows.Next() {
		var (
			def     recurring.Definition
			amount  string
			dueDay  sql.NullInt64
			endDate sql.NullString
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.EntityID, &def.EntityName, &def.CategoryID, &def.CategoryName,
			&amount, &dueDay, &def.BranchID, &def.Active, &def.OpenEnded, &endDate, &def.Notes); err != nil {
			return nil, err
		}
		if def.ExpectedAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("store/sqlite: definition %s amount %q: %w", def.ID, amount, err)
		}
		if dueDay.Valid {
			day := int(dueDay.Int64)
			def.DueDay = &day
		}
		if endDate.Valid && endDate.String != "" {
			end, err := time.Parse(dateLayout, endDate.String)
			if err != nil {
				return nil, fmt.Errorf("store/sqlite: definition %s end date %q: %w", def.ID, endDate.String, err)
			}
			def.EndDate = &end
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (r *RecurringRepository) RecurringEntryExists(ctx context.Context, entityID string, dueDate time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (
	SELECT 1 FROM ap_installments WHERE entity_id = ? AND due_date = ? AND recurring_origin = 1
)`, entityID, dueDate.Format(dateLayout)).Scan(&exists)
	return exists, err
}

func (r *RecurringRepository) InsertEntry(ctx context.Context, e recurring.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO ap_installments (
	id, description, entity_id, entity_name, amount, total_amount, due_date, issue_date, category, status,
	installment_number, total_installments, recurring_origin, recurring_definition_id, branch_id, notes,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Description, e.EntityID, e.EntityName, e.Amount.String(), e.TotalAmount.String(),
		e.DueDate.Format(dateLayout), e.IssueDate.Format(dateLayout), e.Category, string(e.Status),
		e.InstallmentNumber, e.TotalInstallments, boolInt(e.RecurringOrigin), nullString(e.RecurringDefinitionID),
		nullString(e.BranchID), e.Notes, formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if isUniqueViolation(err) {
		return shared.ErrConflict
	}
	return err
}

// CountRecurringEntries returns how many recurring entries exist for entityID.
func (r *RecurringRepository) CountRecurringEntries(ctx context.Context, entityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ap_installments WHERE entity_id = ? AND recurring_origin = 1`, entityID).Scan(&n)
	return n, err
}
