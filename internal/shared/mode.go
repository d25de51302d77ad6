package shared

import (
	"fmt"
	"strings"
)

// RunMode selects whether a bulk pass writes.
type RunMode string

const (
	// RunModeDry reports what would change without writing.
	RunModeDry RunMode = "dry"
	// RunModeApply persists the changes.
	RunModeApply RunMode = "apply"
)

// ParseRunMode accepts "dry" or "apply" in any case. Empty means dry.
func ParseRunMode(raw string) (RunMode, error) {
	switch RunMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RunModeDry:
		return RunModeDry, nil
	case RunModeApply:
		return RunModeApply, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dry or apply): %w", raw, ErrInvalidInput)
	}
}

// Applies reports whether writes are allowed.
func (m RunMode) Applies() bool {
	return m == RunModeApply
}
