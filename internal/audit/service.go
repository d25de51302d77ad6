package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Logger records audit entries in the repository and, when configured, on the
// event stream.
type Logger struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
	clock     func() time.Time
}

// NewLogger returns a Logger. publisher and logger may be nil.
func NewLogger(repo Repository, publisher Publisher, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Record persists the entry. The run id is taken from ctx when the entry has none.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil || l.repo == nil {
		return errors.New("audit: logger not initialised")
	}
	if entry.Action == "" || entry.Subject == "" || entry.SubjectID == "" {
		return fmt.Errorf("audit: entry requires action/subject/subject_id: %w", shared.ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RunID == "" {
		entry.RunID = shared.RunIDFromContext(ctx)
	}
	if entry.RunID == "" {
		entry.RunID = "adhoc"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.clock()
	}
	if err := l.repo.InsertEntry(ctx, entry); err != nil {
		return shared.NewStorageError("audit.insert_entry", err)
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, entry); err != nil {
			l.logger.Warn("audit publish failed",
				slog.String("action", string(entry.Action)),
				slog.String("subject_id", entry.SubjectID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// List returns entries newest first, capped at 500.
func (l *Logger) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if l == nil || l.repo == nil {
		return nil, errors.New("audit: logger not initialised")
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	entries, err := l.repo.ListEntries(ctx, filter)
	if err != nil {
		return nil, shared.NewStorageError("audit.list_entries", err)
	}
	return entries, nil
}
