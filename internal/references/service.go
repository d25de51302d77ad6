package references

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Service runs the legacy reference backfill.
type Service struct {
	repo   Repository
	audit  audit.Recorder
	locker shared.RunLocker
	logger *slog.Logger
}

// NewService builds a Service. recorder, locker and logger may be nil.
func NewService(repo Repository, recorder audit.Recorder, locker shared.RunLocker, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = audit.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: recorder, locker: locker, logger: logger}
}

// Backfill copies the legacy column into the new column where the new column
// is null and the referenced entity exists. Rows already set are left alone,
// which makes the pass safe to repeat.
func (s *Service) Backfill(ctx context.Context, opts Options) (Report, error) {
	if s == nil || s.repo == nil {
		return Report{}, errors.New("references: service not configured")
	}
	mode := opts.Mode
	if mode == "" {
		mode = shared.RunModeDry
	}
	targets := Targets
	if len(opts.Tables) > 0 {
		targets = make([]Target, 0, len(opts.Tables))
		for _, table := range opts.Tables {
			t, err := Lookup(table)
			if err != nil {
				return Report{}, err
			}
			targets = append(targets, t)
		}
	}

	release, err := shared.AcquireRun(ctx, s.locker, "references_backfill")
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release run lock", slog.Any("error", err))
		}
	}()

	report := Report{Mode: mode}
	for _, target := range targets {
		counts, err := s.repo.CountBackfill(ctx, target)
		if err != nil {
			return report, shared.NewStorageError("references.count", err)
		}
		tr := TargetReport{Target: target, Counts: counts}
		logger := s.logger.With(slog.String("target", target.String()), slog.String("mode", string(mode)))
		if counts.Dangling > 0 {
			logger.Warn("legacy references without entity", slog.Int64("dangling", counts.Dangling))
		}
		if mode.Applies() && counts.Pending > 0 {
			updated, err := s.repo.ApplyBackfill(ctx, target)
			if err != nil {
				return report, shared.NewStorageError("references.apply", err)
			}
			tr.Updated = updated
			logger.Info("legacy references backfilled", slog.Int64("updated", updated))
			if err := s.audit.Record(ctx, audit.Entry{
				Action:    audit.ActionReferenceBackfilled,
				Subject:   target.Table,
				SubjectID: target.String(),
				Detail:    map[string]any{"updated": updated, "dangling": counts.Dangling},
			}); err != nil {
				return report, err
			}
		}
		report.Targets = append(report.Targets, tr)
	}
	return report, nil
}
