package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/reconciler/internal/jobs"
	"github.com/odyssey-erp/reconciler/internal/recurring"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// RecurringPoster is the part of recurring.Service the worker drives.
type RecurringPoster interface {
	PostCurrentPeriod(ctx context.Context, definitionID string) (recurring.PostResult, error)
	PostAll(ctx context.Context, opts recurring.BatchOptions) (recurring.BatchReport, error)
}

// RecurringPostJob handles TaskRecurringPost and TaskRecurringPostAll.
type RecurringPostJob struct {
	Service RecurringPoster
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRecurringPostJob initialises the recurring posting handlers.
func NewRecurringPostJob(service RecurringPoster, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringPostJob {
	return &RecurringPostJob{Service: service, Logger: logger, Metrics: metrics}
}

// HandlePost posts one definition. Validation failures are not retried;
// storage failures are, since the posting is idempotent.
func (j *RecurringPostJob) HandlePost(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("recurring post: handler not configured")
	}
	var payload RecurringPostPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DefinitionID == "" {
		return fmt.Errorf("recurring post: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskRecurringPost)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	ctx = withTaskRunID(ctx)
	logger := j.logger().With(slog.String("definition_id", payload.DefinitionID))
	res, err := j.Service.PostCurrentPeriod(ctx, payload.DefinitionID)
	if err != nil {
		logger.Error("recurring post failed", slog.Any("error", err))
		return retryPolicy(err)
	}
	j.metrics().AddOutcome("recurring_post", string(res.Status), 1)
	logger.Info("recurring post done", slog.String("status", string(res.Status)), slog.String("due_date", res.DueDate.Format(time.DateOnly)))
	return nil
}

// HandlePostAll runs the batch. Per definition failures are reported in the
// outcome counters; only a failure to list definitions fails the task.
func (j *RecurringPostJob) HandlePostAll(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("recurring post all: handler not configured")
	}
	mode, err := decodeMode(t, shared.RunModeApply)
	if err != nil {
		return fmt.Errorf("recurring post all: bad payload: %w", asynq.SkipRetry)
	}
	start := time.Now()
	tracker := j.metrics().Track(TaskRecurringPostAll)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	ctx = withTaskRunID(ctx)
	logger := j.logger().With(slog.String("mode", string(mode)))
	report, err := j.Service.PostAll(ctx, recurring.BatchOptions{Mode: mode})
	if err != nil {
		logger.Error("recurring batch failed", slog.Any("error", err))
		return retryPolicy(err)
	}
	for _, o := range report.Outcomes {
		j.metrics().AddOutcome("recurring_post", string(o.Status), 1)
	}
	logger.Info("completed recurring batch",
		slog.Int("posted", report.Posted),
		slog.Int("already_posted", report.AlreadyPosted),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *RecurringPostJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", "recurring"))
	}
	return slog.Default().With(slog.String("job", "recurring"))
}

func (j *RecurringPostJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// retryPolicy lets asynq retry storage faults and drops everything else.
func retryPolicy(err error) error {
	if err == nil || shared.IsStorage(err) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func withTaskRunID(ctx context.Context) context.Context {
	if shared.RunIDFromContext(ctx) != "" {
		return ctx
	}
	if id, ok := asynq.GetTaskID(ctx); ok && id != "" {
		return shared.ContextWithRunID(ctx, id)
	}
	return ctx
}
