package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/reconciler/internal/assignments"
	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/platform/db"
	"github.com/odyssey-erp/reconciler/internal/recurring"
	"github.com/odyssey-erp/reconciler/internal/references"
	"github.com/odyssey-erp/reconciler/internal/roles"
	"github.com/odyssey-erp/reconciler/internal/shared"
	"github.com/odyssey-erp/reconciler/internal/store/sqlite"
)

// Backend bundles the repositories of one storage driver.
type Backend struct {
	Driver      string
	Roles       roles.Repository
	Assignments assignments.Repository
	Recurring   recurring.Repository
	References  references.Repository
	Audit       audit.Repository

	ping  func(context.Context) error
	close func()
}

// BackendOptions tunes OpenBackend.
type BackendOptions struct {
	// SkipGuards omits the unique indexes so legacy duplicates can be cleaned first.
	SkipGuards bool
}

// OpenBackend connects to the configured driver and applies the schema.
func OpenBackend(ctx context.Context, cfg *Config, opts BackendOptions) (*Backend, error) {
	switch cfg.DBDriver {
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			return db.Migrate(ctx, tx, !opts.SkipGuards)
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{
			Driver:      DriverPostgres,
			Roles:       roles.NewRepository(pool),
			Assignments: assignments.NewRepository(pool),
			Recurring:   recurring.NewRepository(pool),
			References:  references.NewRepository(pool),
			Audit:       audit.NewRepository(pool),
			ping:        pool.Ping,
			close:       pool.Close,
		}, nil
	case DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.Options{SkipGuards: opts.SkipGuards})
		if err != nil {
			return nil, err
		}
		return SQLiteBackend(store), nil
	default:
		return nil, fmt.Errorf("app: unsupported driver %q", cfg.DBDriver)
	}
}

// SQLiteBackend wraps an open sqlite store.
func SQLiteBackend(store *sqlite.Store) *Backend {
	return &Backend{
		Driver:      DriverSQLite,
		Roles:       store.Roles(),
		Assignments: store.Assignments(),
		Recurring:   store.Recurring(),
		References:  store.References(),
		Audit:       store.Audit(),
		ping:        store.Ping,
		close:       func() { _ = store.Close() },
	}
}

// Ping checks the storage is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the storage handle.
func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// Services are the reconciliation services over one backend.
type Services struct {
	Roles       *roles.Service
	Assignments *assignments.Service
	Recurring   *recurring.Service
	References  *references.Service
	Audit       *audit.Logger
}

// ServiceDeps are the optional collaborators shared by every service.
type ServiceDeps struct {
	Locker    shared.RunLocker
	Publisher audit.Publisher
	Logger    *slog.Logger
}

// NewServices wires the services over b.
func NewServices(b *Backend, cfg *Config, deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditLog := audit.NewLogger(b.Audit, deps.Publisher, logger.With(slog.String("component", "audit")))

	recurringOpts := recurring.Options{
		Audit:    auditLog,
		Logger:   logger.With(slog.String("component", "recurring")),
		Location: cfg.Location(),
	}
	if cfg != nil {
		recurringOpts.DefaultCategory = cfg.DefaultCategory
		recurringOpts.Concurrency = cfg.PostConcurrency
	}
	return &Services{
		Roles: roles.NewService(b.Roles, roles.ServiceOptions{
			Audit:  auditLog,
			Locker: deps.Locker,
			Logger: logger.With(slog.String("component", "roles")),
		}),
		Assignments: assignments.NewService(b.Assignments, assignments.ServiceOptions{
			Audit:  auditLog,
			Locker: deps.Locker,
			Logger: logger.With(slog.String("component", "assignments")),
		}),
		Recurring:  recurring.NewService(b.Recurring, recurringOpts),
		References: references.NewService(b.References, auditLog, deps.Locker, logger.With(slog.String("component", "references"))),
		Audit:      auditLog,
	}
}
