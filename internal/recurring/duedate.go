package recurring

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// DueDate computes the due date of the period current at today. When today is
// past dueDay the obligation belongs to next month. Days missing from the
// target month are clamped to its last day, so 31 in February yields the 28th
// (29th in leap years). The result is midnight UTC of the calendar date.
func DueDate(today time.Time, dueDay int) (time.Time, error) {
	if dueDay < 1 || dueDay > 31 {
		return time.Time{}, fmt.Errorf("recurring: due day %d outside 1..31: %w", dueDay, shared.ErrInvalidDefinition)
	}
	year, month, day := today.Date()
	if day > dueDay {
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	if last := daysIn(year, month); dueDay > last {
		dueDay = last
	}
	return time.Date(year, month, dueDay, 0, 0, 0, 0, time.UTC), nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOf truncates t to its calendar date in loc, expressed as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
