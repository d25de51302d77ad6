package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reconciler/internal/assignments"
	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/recurring"
	"github.com/odyssey-erp/reconciler/internal/references"
	"github.com/odyssey-erp/reconciler/internal/roles"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "reconcile.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func exec(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	_, err := s.DB().Exec(query, args...)
	require.NoError(t, err)
}

func seedEntities(t *testing.T, s *Store) {
	exec(t, s, `INSERT INTO entities (id, name) VALUES ('sup-1', 'Imobiliária Central'), ('sup-2', 'Energia SA'), ('emp-1', 'Ana')`)
	exec(t, s, `INSERT INTO categories (id, name) VALUES ('cat-rent', 'Aluguel')`)
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcile.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), path, Options{})
		require.NoError(t, err)
		require.NoError(t, store.Ping(context.Background()))
		require.NoError(t, store.Close())
	}
}

func TestRoleDedupeOnLegacyFile(t *testing.T) {
	store := openStore(t, Options{SkipGuards: true})
	exec(t, store, `INSERT INTO roles (id, name, active, created_at, updated_at) VALUES
		('r-b', 'VENDEDOR ', 1, '2023-02-01T00:00:00Z', '2023-02-01T00:00:00Z'),
		('r-a', 'Vendedor', 0, '2023-01-01T00:00:00Z', '2023-01-01T00:00:00Z'),
		('r-c', 'Cliente', 1, '2023-01-05T00:00:00Z', '2023-01-05T00:00:00Z')`)

	svc := roles.NewService(store.Roles(), roles.ServiceOptions{})
	report, err := svc.Deduplicate(context.Background(), roles.DedupeOptions{Mode: shared.RunModeApply})
	require.NoError(t, err)
	require.Equal(t, []string{"r-b"}, report.Deactivated)
	require.Equal(t, []string{"r-a"}, report.Reactivated)

	list, err := store.Roles().ListRoles(context.Background())
	require.NoError(t, err)
	active := map[string]bool{}
	for _, r := range list {
		active[r.ID] = r.Active
	}
	require.Equal(t, map[string]bool{"r-a": true, "r-b": false, "r-c": true}, active)

	again, err := svc.Deduplicate(context.Background(), roles.DedupeOptions{Mode: shared.RunModeApply})
	require.NoError(t, err)
	require.False(t, again.Pending())
}

func TestCreateRoleConflictsOnActiveName(t *testing.T) {
	store := openStore(t, Options{})
	repo := store.Roles()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.CreateRole(context.Background(), roles.Role{ID: "r-1", Name: "Fornecedor", Active: true, CreatedAt: &now, UpdatedAt: now})
	require.NoError(t, err)
	_, err = repo.CreateRole(context.Background(), roles.Role{ID: "r-2", Name: " fornecedor", Active: true, CreatedAt: &now, UpdatedAt: now})
	require.ErrorIs(t, err, shared.ErrConflict)

	list, err := repo.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].CreatedAt)
	require.True(t, now.Equal(*list[0].CreatedAt))
}

func TestActiveRoleGuardUsesCanonicalKey(t *testing.T) {
	store := openStore(t, Options{})
	repo := store.Roles()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	create := func(id, name string) error {
		_, err := repo.CreateRole(context.Background(), roles.Role{ID: id, Name: name, Active: true, CreatedAt: &now, UpdatedAt: now})
		return err
	}

	require.NoError(t, create("r-1", "Funcionário"))
	require.ErrorIs(t, create("r-2", "FUNCIONÁRIO"), shared.ErrConflict)
	require.ErrorIs(t, create("r-3", "Funciona\u0301rio"), shared.ErrConflict)
	require.NoError(t, create("r-4", "Fornecedor"))
	require.ErrorIs(t, create("r-5", "Fornecedor\u00a0"), shared.ErrConflict)
	require.ErrorIs(t, create("r-6", "Fornecedor\t"), shared.ErrConflict)
	require.NoError(t, create("r-7", "Straße"))
	require.ErrorIs(t, create("r-8", "STRASSE"), shared.ErrConflict)

	list, err := repo.ListRoles(context.Background())
	require.NoError(t, err)
	perKey := map[string]int{}
	for _, r := range list {
		if r.Active {
			perKey[r.Key()]++
		}
	}
	require.Equal(t, map[string]int{"funcionário": 1, "fornecedor": 1, "strasse": 1}, perKey)
}

func TestOpenBackfillsRoleKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcile.db")
	legacy, err := Open(context.Background(), path, Options{SkipGuards: true})
	require.NoError(t, err)
	_, err = legacy.DB().Exec(`INSERT INTO roles (id, name, active, created_at, updated_at) VALUES
		('r-1', 'CLIENTE', 1, '2023-01-01T00:00:00Z', '2023-01-01T00:00:00Z')`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var key string
	require.NoError(t, store.DB().QueryRow(`SELECT name_key FROM roles WHERE id = 'r-1'`).Scan(&key))
	require.Equal(t, "cliente", key)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.Roles().CreateRole(context.Background(), roles.Role{ID: "r-2", Name: "Cliente\t", Active: true, CreatedAt: &now, UpdatedAt: now})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAssignmentUpsertAgainstUniqueIndex(t *testing.T) {
	store := openStore(t, Options{})
	seedEntities(t, store)
	exec(t, store, `INSERT INTO roles (id, name, updated_at) VALUES ('r-1', 'Vendedor', '2024-01-01T00:00:00Z')`)
	svc := assignments.NewService(store.Assignments(), assignments.ServiceOptions{})

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]struct{}{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Upsert(context.Background(), "emp-1", "r-1", assignments.ActionAdd)
			if err != nil {
				t.Errorf("upsert: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Status == assignments.StatusCreated {
				created++
			}
			ids[res.AssignmentID] = struct{}{}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
	require.Len(t, ids, 1)

	rows, err := store.Assignments().ListAssignments(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = svc.Upsert(context.Background(), "ghost", "r-1", assignments.ActionAdd)
	require.ErrorIs(t, err, shared.ErrNotFound)

	res, err := svc.Upsert(context.Background(), "emp-1", "r-1", assignments.ActionRemove)
	require.NoError(t, err)
	require.Equal(t, assignments.StatusRemoved, res.Status)
	res, err = svc.Upsert(context.Background(), "emp-1", "r-1", assignments.ActionRemove)
	require.NoError(t, err)
	require.Equal(t, assignments.StatusNotFound, res.Status)
}

func TestRecurringPostIsIdempotent(t *testing.T) {
	store := openStore(t, Options{})
	seedEntities(t, store)
	exec(t, store, `INSERT INTO recurring_bills (id, name, entity_id, category_id, expected_amount, due_day, open_ended)
		VALUES ('rb-1', 'Aluguel loja', 'sup-1', 'cat-rent', '4500.00', 31, 1)`)

	clock := func() time.Time { return time.Date(2024, 2, 10, 14, 0, 0, 0, time.UTC) }
	repo := store.Recurring()
	svc := recurring.NewService(repo, recurring.Options{Clock: clock})

	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := map[recurring.PostStatus]int{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.PostCurrentPeriod(context.Background(), "rb-1")
			if err != nil {
				t.Errorf("post: %v", err)
				return
			}
			mu.Lock()
			statuses[res.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, statuses[recurring.StatusPosted])
	require.Equal(t, 7, statuses[recurring.StatusAlreadyPosted])

	n, err := repo.CountRecurringEntries(context.Background(), "sup-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var (
		due, category, entityName, amount string
	)
	require.NoError(t, store.DB().QueryRow(`SELECT due_date, category, entity_name, amount FROM ap_installments`).
		Scan(&due, &category, &entityName, &amount))
	require.Equal(t, "2024-02-29", due)
	require.Equal(t, "Aluguel", category)
	require.Equal(t, "Imobiliária Central", entityName)
	require.True(t, decimal.RequireFromString("4500").Equal(decimal.RequireFromString(amount)))
}

func TestRecurringDefinitionColumns(t *testing.T) {
	store := openStore(t, Options{})
	seedEntities(t, store)
	exec(t, store, `INSERT INTO recurring_bills (id, name, entity_id, expected_amount, due_day, end_date, active)
		VALUES ('rb-2', 'Energia', 'sup-2', '310.55', NULL, '2024-06-30', 1),
		       ('rb-3', 'Antigo', 'sup-2', '1', 5, NULL, 0)`)

	defs, err := store.Recurring().ListActiveDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	def := defs[0]
	require.Nil(t, def.DueDay)
	require.NotNil(t, def.EndDate)
	require.Equal(t, "2024-06-30", def.EndDate.Format(time.DateOnly))
	require.Equal(t, "Energia SA", def.EntityName)
	require.Empty(t, def.CategoryName)

	_, err = store.Recurring().GetDefinition(context.Background(), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReferenceBackfill(t *testing.T) {
	store := openStore(t, Options{})
	seedEntities(t, store)
	exec(t, store, `INSERT INTO orders (id, supplier_id, entity_id) VALUES
		('o-1', 'sup-1', NULL), ('o-2', 'sup-9', NULL), ('o-3', 'sup-2', 'sup-2'), ('o-4', NULL, NULL)`)

	repo := store.References()
	target, err := references.Lookup("orders")
	require.NoError(t, err)

	counts, err := repo.CountBackfill(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, references.Counts{Pending: 1, Dangling: 1}, counts)

	updated, err := repo.ApplyBackfill(context.Background(), target)
	require.NoError(t, err)
	require.EqualValues(t, 1, updated)

	updated, err = repo.ApplyBackfill(context.Background(), target)
	require.NoError(t, err)
	require.Zero(t, updated)

	_, err = repo.CountBackfill(context.Background(), references.Target{Table: "entities", LegacyColumn: "id", Column: "name"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestAuditRoundTrip(t *testing.T) {
	store := openStore(t, Options{})
	logger := audit.NewLogger(store.Audit(), nil, nil)
	ctx := shared.ContextWithRunID(context.Background(), "run-1")

	require.NoError(t, logger.Record(ctx, audit.Entry{
		Action: audit.ActionRoleDeactivated, Subject: "role", SubjectID: "r-2",
		Detail: map[string]any{"survivor_id": "r-1"},
	}))
	require.NoError(t, logger.Record(context.Background(), audit.Entry{
		Action: audit.ActionRoleCreated, Subject: "role", SubjectID: "r-3",
	}))

	entries, err := logger.List(context.Background(), audit.Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionRoleDeactivated, entries[0].Action)
	require.Equal(t, "r-1", entries[0].Detail["survivor_id"])
	require.False(t, entries[0].CreatedAt.IsZero())

	all, err := logger.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
