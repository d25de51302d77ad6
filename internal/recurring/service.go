package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

const (
	// DefaultCategory labels entries whose definition has no category.
	DefaultCategory = "Geral"
	// UnknownEntityName is stored when the supplier name could not be joined.
	UnknownEntityName = "N/A"
	provenancePrefix  = "Lançamento automático da conta recorrente: "
)

// Options carries the optional collaborators of Service.
type Options struct {
	Audit           audit.Recorder
	Logger          *slog.Logger
	Clock           func() time.Time
	Location        *time.Location
	DefaultCategory string
	// Concurrency bounds PostAll. Zero means 4.
	Concurrency int
}

// Service posts recurring obligations into the payables ledger.
type Service struct {
	repo            Repository
	audit           audit.Recorder
	logger          *slog.Logger
	clock           func() time.Time
	loc             *time.Location
	defaultCategory string
	concurrency     int
}

// NewService builds a Service.
func NewService(repo Repository, opts Options) *Service {
	svc := &Service{
		repo:            repo,
		audit:           opts.Audit,
		logger:          opts.Logger,
		clock:           opts.Clock,
		loc:             opts.Location,
		defaultCategory: strings.TrimSpace(opts.DefaultCategory),
		concurrency:     opts.Concurrency,
	}
	if svc.audit == nil {
		svc.audit = audit.Discard
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.defaultCategory == "" {
		svc.defaultCategory = DefaultCategory
	}
	if svc.concurrency <= 0 {
		svc.concurrency = 4
	}
	return svc
}

// Today returns the invocation date in the configured location.
func (s *Service) Today() time.Time {
	return DateOf(s.clock(), s.loc)
}

// PostCurrentPeriod posts the entry of the current period for definitionID
// exactly once. A second call in the same period returns already_posted
// without writing; so does losing a concurrent race on the unique index.
// Storage failures are returned as *shared.StorageError and never retried.
func (s *Service) PostCurrentPeriod(ctx context.Context, definitionID string) (PostResult, error) {
	if s == nil || s.repo == nil {
		return PostResult{}, errors.New("recurring: service not configured")
	}
	definitionID = strings.TrimSpace(definitionID)
	if definitionID == "" {
		return PostResult{}, fmt.Errorf("recurring: definition id is required: %w", shared.ErrInvalidInput)
	}
	def, err := s.repo.GetDefinition(ctx, definitionID)
	if errors.Is(err, shared.ErrNotFound) {
		return PostResult{DefinitionID: definitionID, Status: StatusNotFound}, fmt.Errorf("recurring: definition %s: %w", definitionID, shared.ErrNotFound)
	}
	if err != nil {
		return PostResult{DefinitionID: definitionID}, shared.NewStorageError("recurring.get_definition", err)
	}
	return s.post(ctx, def, s.Today(), true)
}

func (s *Service) post(ctx context.Context, def Definition, today time.Time, write bool) (PostResult, error) {
	result := PostResult{DefinitionID: def.ID}
	if err := def.Validate(); err != nil {
		return result, err
	}
	due, err := DueDate(today, *def.DueDay)
	if err != nil {
		return result, err
	}
	result.DueDate = due
	logger := s.logger.With(slog.String("definition_id", def.ID), slog.String("due_date", due.Format(time.DateOnly)))

	exists, err := s.repo.RecurringEntryExists(ctx, def.EntityID, due)
	if err != nil {
		return result, shared.NewStorageError("recurring.entry_exists", err)
	}
	if exists {
		logger.Debug("recurring entry already posted")
		result.Status = StatusAlreadyPosted
		return result, nil
	}
	if !write {
		result.Status = StatusWouldPost
		return result, nil
	}

	entry := s.buildEntry(def, due, today)
	if err := s.repo.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, shared.ErrConflict) {
			logger.Info("recurring entry posted concurrently")
			result.Status = StatusAlreadyPosted
			return result, nil
		}
		return result, shared.NewStorageError("recurring.insert_entry", err)
	}
	result.Status = StatusPosted
	result.Entry = &entry
	logger.Info("recurring entry posted", slog.String("entry_id", entry.ID), slog.String("amount", entry.Amount.StringFixed(2)))

	if err := s.audit.Record(ctx, audit.Entry{
		Action:    audit.ActionLedgerEntryPosted,
		Subject:   "ap_installment",
		SubjectID: entry.ID,
		Detail: map[string]any{
			"definition_id": def.ID,
			"entity_id":     def.EntityID,
			"due_date":      due.Format(time.DateOnly),
			"amount":        entry.Amount.StringFixed(2),
		},
	}); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) buildEntry(def Definition, due, today time.Time) LedgerEntry {
	category := strings.TrimSpace(def.CategoryName)
	if category == "" {
		category = s.defaultCategory
	}
	entityName := strings.TrimSpace(def.EntityName)
	if entityName == "" {
		entityName = UnknownEntityName
	}
	now := s.clock().UTC()
	return LedgerEntry{
		ID:                    uuid.NewString(),
		Description:           def.Name,
		EntityID:              def.EntityID,
		EntityName:            entityName,
		Amount:                def.ExpectedAmount,
		TotalAmount:           def.ExpectedAmount,
		DueDate:               due,
		IssueDate:             today,
		Category:              category,
		Status:                EntryOpen,
		InstallmentNumber:     1,
		TotalInstallments:     1,
		RecurringOrigin:       true,
		RecurringDefinitionID: def.ID,
		BranchID:              def.BranchID,
		Notes:                 provenancePrefix + def.Name,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// BatchOptions configures PostAll.
type BatchOptions struct {
	Mode shared.RunMode
}

// BatchOutcome is the result for one definition in PostAll.
type BatchOutcome struct {
	DefinitionID string     `json:"definition_id"`
	Name         string     `json:"name"`
	Status       PostStatus `json:"status"`
	DueDate      string     `json:"due_date,omitempty"`
	EntryID      string     `json:"entry_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

// BatchReport summarises PostAll.
type BatchReport struct {
	Mode          shared.RunMode `json:"mode"`
	Date          string         `json:"date"`
	Outcomes      []BatchOutcome `json:"outcomes"`
	Posted        int            `json:"posted"`
	AlreadyPosted int            `json:"already_posted"`
	Pending       int            `json:"pending"`
	Skipped       int            `json:"skipped"`
	Failed        int            `json:"failed"`
	StorageErrors int            `json:"storage_errors"`
}

// PostAll posts the current period of every active definition. Definitions
// whose end date precedes the due date are skipped unless open ended. A
// failing definition is reported in its outcome and never stops the batch.
func (s *Service) PostAll(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	if s == nil || s.repo == nil {
		return BatchReport{}, errors.New("recurring: service not configured")
	}
	mode := opts.Mode
	if mode == "" {
		mode = shared.RunModeApply
	}
	defs, err := s.repo.ListActiveDefinitions(ctx)
	if err != nil {
		return BatchReport{}, shared.NewStorageError("recurring.list_definitions", err)
	}
	today := s.Today()
	outcomes := make([]BatchOutcome, len(defs))
	storageErrs := make([]bool, len(defs))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			outcomes[i], storageErrs[i] = s.postOne(ctx, def, today, mode.Applies())
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Mode: mode, Date: today.Format(time.DateOnly), Outcomes: outcomes}
	for i, o := range outcomes {
		switch o.Status {
		case StatusPosted:
			report.Posted++
		case StatusAlreadyPosted:
			report.AlreadyPosted++
		case StatusWouldPost:
			report.Pending++
		case StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
		if storageErrs[i] {
			report.StorageErrors++
		}
	}
	s.logger.Info("recurring batch finished",
		slog.String("mode", string(mode)),
		slog.Int("definitions", len(defs)),
		slog.Int("posted", report.Posted),
		slog.Int("already_posted", report.AlreadyPosted),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Service) postOne(ctx context.Context, def Definition, today time.Time, write bool) (BatchOutcome, bool) {
	out := BatchOutcome{DefinitionID: def.ID, Name: def.Name}
	if err := ctx.Err(); err != nil {
		out.Status, out.Reason = StatusFailed, err.Error()
		return out, false
	}
	if !def.Active {
		out.Status, out.Reason = StatusSkipped, "inactive"
		return out, false
	}
	if def.DueDay != nil && !def.OpenEnded && def.EndDate != nil {
		if due, err := DueDate(today, *def.DueDay); err == nil {
			if DateOf(*def.EndDate, nil).Before(due) {
				out.Status, out.Reason = StatusSkipped, "ended "+def.EndDate.Format(time.DateOnly)
				out.DueDate = due.Format(time.DateOnly)
				return out, false
			}
		}
	}
	res, err := s.post(ctx, def, today, write)
	if !res.DueDate.IsZero() {
		out.DueDate = res.DueDate.Format(time.DateOnly)
	}
	if res.Entry != nil {
		out.EntryID = res.Entry.ID
	}
	out.Status = res.Status
	if err != nil {
		s.logger.Error("recurring post failed", slog.String("definition_id", def.ID), slog.Any("error", err))
		if res.Status != StatusPosted {
			out.Status = StatusFailed
		}
		out.Reason = err.Error()
		return out, shared.IsStorage(err)
	}
	return out, false
}
