// Package references copies legacy supplier references into the entity
// foreign keys that replaced them.
package references

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Target names a table whose legacy column is being migrated into Column.
type Target struct {
	Table        string `json:"table"`
	LegacyColumn string `json:"legacy_column"`
	Column       string `json:"column"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s.%s->%s", t.Table, t.LegacyColumn, t.Column)
}

// Targets is the allowlist of tables the backfill may touch.
var Targets = []Target{
	{Table: "orders", LegacyColumn: "supplier_id", Column: "entity_id"},
	{Table: "brands", LegacyColumn: "supplier_id", Column: "entity_id"},
}

// Lookup returns the registered target for table.
func Lookup(table string) (Target, error) {
	for _, t := range Targets {
		if t.Table == table {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("references: unknown table %q: %w", table, shared.ErrInvalidInput)
}

// Counts describes the backlog of one target.
type Counts struct {
	// Pending rows have a legacy value pointing at an existing entity.
	Pending int64 `json:"pending"`
	// Dangling rows have a legacy value with no matching entity; they are never written.
	Dangling int64 `json:"dangling"`
}

// Repository counts and applies the backfill for one target.
type Repository interface {
	CountBackfill(ctx context.Context, target Target) (Counts, error)
	ApplyBackfill(ctx context.Context, target Target) (int64, error)
}

// Options configures a backfill pass.
type Options struct {
	Mode shared.RunMode
	// Tables restricts the pass; empty means every registered target.
	Tables []string
}

// TargetReport is the outcome for one target.
type TargetReport struct {
	Target  Target `json:"target"`
	Counts  Counts `json:"counts"`
	Updated int64  `json:"updated"`
}

// Report summarises a backfill pass.
type Report struct {
	Mode    shared.RunMode `json:"mode"`
	Targets []TargetReport `json:"targets"`
}

// Pending reports whether any target had rows to copy.
func (r Report) Pending() bool {
	for _, t := range r.Targets {
		if t.Counts.Pending > 0 {
			return true
		}
	}
	return false
}
