package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/reconciler/internal/app"
	jobmetrics "github.com/odyssey-erp/reconciler/internal/jobs"
	"github.com/odyssey-erp/reconciler/internal/observability"
	"github.com/odyssey-erp/reconciler/internal/shared"
	"github.com/odyssey-erp/reconciler/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	rt, err := app.Connect(ctx, cfg, logger, app.BackendOptions{})
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer rt.Close()
	if rt.Redis == nil {
		logger.Error("worker requires redis", slog.String("addr", cfg.RedisAddr))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	recurringJob := jobs.NewRecurringPostJob(rt.Services.Recurring, logger, jobMetrics)
	dedupeJob := jobs.NewRolesDedupeJob(rt.Services.Roles, logger, jobMetrics)

	postAllTask, err := jobs.NewRecurringPostAllTask(shared.RunModeApply)
	if err != nil {
		logger.Error("build post all task", slog.Any("error", err))
		os.Exit(1)
	}
	dedupeTask, err := jobs.NewRolesDedupeTask(shared.RunModeApply)
	if err != nil {
		logger.Error("build roles dedupe task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRecurringPost, Handler: recurringJob.HandlePost},
			{Type: jobs.TaskRecurringPostAll, Handler: recurringJob.HandlePostAll},
			{Type: jobs.TaskRolesDedupe, Handler: dedupeJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 5 * * *", Task: dedupeTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "0 6 * * *", Task: postAllTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr: cfg.WorkerAddr,
		Handler: app.NewOpsRouter(app.RouterParams{
			Logger:  logger,
			Config:  cfg,
			Metrics: metrics,
			Ping:    rt.Backend.Ping,
			Jobs:    jobs.NewHandler(inspector, logger),
			Audit:   rt.Services.Audit,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.WorkerAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
			stop()
		}
	}()

	logger.Info("worker started",
		slog.String("driver", rt.Backend.Driver),
		slog.String("timezone", cfg.Location().String()),
		slog.Int("concurrency", cfg.WorkerConcurrency),
	)
	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker run", slog.Any("error", runErr))
		os.Exit(1)
	}
}
