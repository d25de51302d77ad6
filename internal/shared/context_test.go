package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunIDContext(t *testing.T) {
	require.Equal(t, "", RunIDFromContext(context.Background()))
	ctx := ContextWithRunID(context.Background(), "run-42")
	require.Equal(t, "run-42", RunIDFromContext(ctx))
}
