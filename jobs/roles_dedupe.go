package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/reconciler/internal/jobs"
	"github.com/odyssey-erp/reconciler/internal/roles"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// RoleDeduper is the part of roles.Service the worker drives.
type RoleDeduper interface {
	Deduplicate(ctx context.Context, opts roles.DedupeOptions) (roles.DedupeReport, error)
}

// RolesDedupeJob handles TaskRolesDedupe.
type RolesDedupeJob struct {
	Service RoleDeduper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRolesDedupeJob constructs the duplicate role handler.
func NewRolesDedupeJob(service RoleDeduper, logger *slog.Logger, metrics *jobmetrics.Metrics) *RolesDedupeJob {
	return &RolesDedupeJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle runs the pass. Scheduled runs default to apply mode; a run already
// held by another process is a no-op.
func (j *RolesDedupeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("roles dedupe: handler not configured")
	}
	mode, err := decodeMode(t, shared.RunModeApply)
	if err != nil {
		return fmt.Errorf("roles dedupe: bad payload: %w", asynq.SkipRetry)
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskRolesDedupe), slog.String("mode", string(mode)))
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskRolesDedupe)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Service.Deduplicate(withTaskRunID(ctx), roles.DedupeOptions{Mode: mode})
	if errors.Is(err, shared.ErrRunInProgress) {
		logger.Info("roles dedupe skipped, run in progress")
		metrics.AddOutcome("roles_dedupe", "skipped", 1)
		return nil
	}
	if err != nil {
		logger.Error("roles dedupe failed", slog.Any("error", err))
		return retryPolicy(err)
	}
	metrics.AddOutcome("roles_dedupe", "deactivated", len(report.Deactivated))
	metrics.AddOutcome("roles_dedupe", "reactivated", len(report.Reactivated))
	logger.Info("completed roles dedupe",
		slog.Int("scanned", report.Scanned),
		slog.Int("groups", len(report.Groups)),
		slog.Int("deactivated", len(report.Deactivated)),
	)
	return nil
}
