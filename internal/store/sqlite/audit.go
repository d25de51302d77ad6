package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/odyssey-erp/reconciler/internal/audit"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	db *sql.DB
}

var _ audit.Repository = (*AuditRepository)(nil)

// Audit returns the audit trail repository.
func (s *Store) Audit() *AuditRepository {
	return &AuditRepository{db: s.db}
}

func (r *AuditRepository) InsertEntry(ctx context.Context, entry audit.Entry) error {
	detail, err := audit.MarshalDetail(entry.Detail)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO reconcile_audit (id, run_id, action, subject, subject_id, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, string(entry.Action), entry.Subject, entry.SubjectID, string(detail), formatTime(entry.CreatedAt))
	return err
}

func (r *AuditRepository) ListEntries(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	query := `SELECT id, run_id, action, subject, subject_id, detail, created_at FROM reconcile_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			entry     audit.Entry
			action    string
			detail    string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &action, &entry.Subject, &entry.SubjectID, &detail, &createdAt); err != nil {
			return nil, err
		}
		entry.Action = audit.Action(action)
		if entry.Detail, err = audit.UnmarshalDetail([]byte(detail)); err != nil {
			return nil, err
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
