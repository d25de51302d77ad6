package audit

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/odyssey-erp/reconciler/internal/platform/db"
)

// PGRepository stores entries in reconcile_audit.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

var _ Repository = (*PGRepository)(nil)

// InsertEntry appends a row.
func (r *PGRepository) InsertEntry(ctx context.Context, entry Entry) error {
	detail, err := MarshalDetail(entry.Detail)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `INSERT INTO reconcile_audit (id, run_id, action, subject, subject_id, detail, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.RunID, string(entry.Action), entry.Subject, entry.SubjectID, detail, entry.CreatedAt)
	return err
}

// ListEntries returns rows matching filter, newest first.
func (r *PGRepository) ListEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.RunID != "" {
		args = append(args, filter.RunID)
		where = append(where, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	query := `SELECT id, run_id, action, subject, subject_id, detail, created_at FROM reconcile_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry  Entry
			action string
			detail []byte
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &action, &entry.Subject, &entry.SubjectID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Action = Action(action)
		if entry.Detail, err = UnmarshalDetail(detail); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// MarshalDetail encodes detail for storage; nil encodes as an empty object.
func MarshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("audit: encode detail: %w", err)
	}
	return raw, nil
}

// UnmarshalDetail decodes stored detail; empty objects decode as nil.
func UnmarshalDetail(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var detail map[string]any
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("audit: decode detail: %w", err)
	}
	if len(detail) == 0 {
		return nil, nil
	}
	return detail, nil
}
