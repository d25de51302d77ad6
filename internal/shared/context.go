package shared

import "context"

type runIDContextKey struct{}

// ContextWithRunID tags ctx with the identifier of the current reconciliation run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey{}, runID)
}

// RunIDFromContext extracts the run identifier, or "" when none was set.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDContextKey{}).(string)
	return id
}
