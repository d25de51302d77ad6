package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/observability"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

func validConfig() *Config {
	return &Config{
		DBDriver:        " SQLite ",
		SQLitePath:      "reconcile.db",
		Timezone:        "America/Sao_Paulo",
		PostConcurrency: 4,
		LockTTL:         time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DriverSQLite, cfg.DBDriver)
	require.Equal(t, "America/Sao_Paulo", cfg.Location().String())
	require.False(t, cfg.AuditStreamEnabled())

	cfg = validConfig()
	cfg.DBDriver = "mysql"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Timezone = "Mars/Olympus"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.DBDriver = DriverPostgres
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.PostConcurrency = 0
	require.Error(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/reconcile.db")
	t.Setenv("RECONCILE_TIMEZONE", "UTC")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, time.UTC, cfg.Location())
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.AuditStreamEnabled())
	require.Equal(t, 2*time.Minute, cfg.LockTTL)
}

func TestNilConfigDefaults(t *testing.T) {
	var cfg *Config
	require.Equal(t, time.UTC, cfg.Location())
	require.False(t, cfg.IsProduction())
	require.Error(t, cfg.Validate())
}

type stubAudit struct {
	entries []audit.Entry
	err     error
	filter  audit.Filter
}

func (s *stubAudit) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.filter = filter
	return s.entries, s.err
}

func newTestRouter(ping func(context.Context) error, lister AuditLister) http.Handler {
	return NewOpsRouter(RouterParams{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:  &Config{},
		Metrics: observability.NewMetrics(),
		Ping:    ping,
		Audit:   lister,
	})
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOpsHealthz(t *testing.T) {
	rec := serve(newTestRouter(nil, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := func(context.Context) error { return errors.New("connection refused") }
	rec = serve(newTestRouter(down, nil), "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpsAudit(t *testing.T) {
	lister := &stubAudit{entries: []audit.Entry{{ID: "a-1", RunID: "run-1", Action: audit.ActionRoleDeactivated, Subject: "role", SubjectID: "r-2"}}}
	router := newTestRouter(nil, lister)

	rec := serve(router, "/audit?run_id=run-1&action=role.deactivated&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, audit.Filter{RunID: "run-1", Action: audit.ActionRoleDeactivated, Limit: 5}, lister.filter)
	var body struct {
		Entries []audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	require.Equal(t, "r-2", body.Entries[0].SubjectID)

	rec = serve(router, "/audit?limit=many")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	lister.err = shared.NewStorageError("audit.list", errors.New("disk I/O error"))
	rec = serve(router, "/audit")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(newTestRouter(nil, nil), "/audit")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpsMetrics(t *testing.T) {
	router := newTestRouter(nil, nil)
	serve(router, "/healthz")
	rec := serve(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
