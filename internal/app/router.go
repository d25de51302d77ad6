package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/observability"
	"github.com/odyssey-erp/reconciler/internal/platform/httpx"
)

// AuditLister is the read side of the audit trail.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// RouterParams groups dependencies for building the ops router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	// Ping reports storage health for /healthz; nil skips the check.
	Ping func(context.Context) error
	// Jobs mounts queue observability under /jobs.
	Jobs interface{ MountRoutes(chi.Router) }
	// Audit exposes GET /audit when set.
	Audit AuditLister
}

// NewOpsRouter constructs the worker's operational HTTP surface.
func NewOpsRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: logger, Config: params.Config, Metrics: params.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ping != nil {
			if err := params.Ping(r.Context()); err != nil {
				logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	if params.Jobs != nil {
		r.Route("/jobs", params.Jobs.MountRoutes)
	}
	if params.Audit != nil {
		r.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
			filter := audit.Filter{
				RunID:  r.URL.Query().Get("run_id"),
				Action: audit.Action(r.URL.Query().Get("action")),
			}
			if raw := r.URL.Query().Get("limit"); raw != "" {
				limit, err := strconv.Atoi(raw)
				if err != nil || limit < 0 {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
					return
				}
				filter.Limit = limit
			}
			entries, err := params.Audit.List(r.Context(), filter)
			if err != nil {
				logger.Error("list audit entries", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if entries == nil {
				entries = []audit.Entry{}
			}
			httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
		})
	}
	return r
}
