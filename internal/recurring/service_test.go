package recurring

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

type entryKey struct {
	entity string
	due    time.Time
}

// memoryLedgerRepo enforces the recurring unique index on insert, like the
// partial index in storage. existsBlind makes RecurringEntryExists always miss
// so races reach InsertEntry.
type memoryLedgerRepo struct {
	mu          sync.Mutex
	defs        map[string]Definition
	entries     []LedgerEntry
	recurring   map[entryKey]bool
	existsErr   error
	insertErr   error
	existsBlind bool
}

func newMemoryLedgerRepo(defs ...Definition) *memoryLedgerRepo {
	repo := &memoryLedgerRepo{defs: make(map[string]Definition), recurring: make(map[entryKey]bool)}
	for _, d := range defs {
		repo.defs[d.ID] = d
	}
	return repo
}

func (r *memoryLedgerRepo) GetDefinition(ctx context.Context, id string) (Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, shared.ErrNotFound
	}
	return def, nil
}

func (r *memoryLedgerRepo) ListActiveDefinitions(ctx context.Context) ([]Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Definition
	for _, d := range r.defs {
		if d.Active {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryLedgerRepo) RecurringEntryExists(ctx context.Context, entityID string, due time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsErr != nil {
		return false, r.existsErr
	}
	if r.existsBlind {
		return false, nil
	}
	return r.recurring[entryKey{entityID, due}], nil
}

func (r *memoryLedgerRepo) InsertEntry(ctx context.Context, e LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	key := entryKey{e.EntityID, e.DueDate}
	if e.RecurringOrigin && r.recurring[key] {
		return shared.ErrConflict
	}
	if e.RecurringOrigin {
		r.recurring[key] = true
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *memoryLedgerRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Record(ctx context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func intPtr(v int) *int { return &v }

func rent() Definition {
	return Definition{
		ID:             "def-rent",
		Name:           "Aluguel Loja Centro",
		EntityID:       "sup-1",
		EntityName:     "Imobiliária Central",
		CategoryName:   "Aluguel",
		ExpectedAmount: decimal.RequireFromString("3500.00"),
		DueDay:         intPtr(15),
		BranchID:       "branch-1",
		Active:         true,
	}
}

func clockAt(y int, m time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, m, d, 15, 0, 0, 0, time.UTC) }
}

func TestPostCurrentPeriodBuildsEntry(t *testing.T) {
	repo := newMemoryLedgerRepo(rent())
	rec := &recordingAudit{}
	svc := NewService(repo, Options{Audit: rec, Clock: clockAt(2025, 1, 20)})

	res, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, res.Status)
	require.Equal(t, date(2025, 2, 15), res.DueDate)
	require.NotNil(t, res.Entry)

	e := *res.Entry
	require.Equal(t, "Aluguel Loja Centro", e.Description)
	require.Equal(t, "sup-1", e.EntityID)
	require.Equal(t, "Imobiliária Central", e.EntityName)
	require.True(t, e.Amount.Equal(decimal.RequireFromString("3500")))
	require.True(t, e.TotalAmount.Equal(e.Amount))
	require.Equal(t, date(2025, 2, 15), e.DueDate)
	require.Equal(t, date(2025, 1, 20), e.IssueDate)
	require.Equal(t, "Aluguel", e.Category)
	require.Equal(t, EntryOpen, e.Status)
	require.Equal(t, 1, e.InstallmentNumber)
	require.Equal(t, 1, e.TotalInstallments)
	require.True(t, e.RecurringOrigin)
	require.Equal(t, "def-rent", e.RecurringDefinitionID)
	require.Equal(t, "branch-1", e.BranchID)
	require.Equal(t, "Lançamento automático da conta recorrente: Aluguel Loja Centro", e.Notes)

	require.Len(t, rec.entries, 1)
	require.Equal(t, audit.ActionLedgerEntryPosted, rec.entries[0].Action)
	require.Equal(t, e.ID, rec.entries[0].SubjectID)
}

func TestPostCurrentPeriodDefaults(t *testing.T) {
	def := rent()
	def.CategoryName = ""
	def.EntityName = ""
	repo := newMemoryLedgerRepo(def)
	svc := NewService(repo, Options{Clock: clockAt(2025, 1, 10)})

	res, err := svc.PostCurrentPeriod(context.Background(), def.ID)
	require.NoError(t, err)
	require.Equal(t, DefaultCategory, res.Entry.Category)
	require.Equal(t, UnknownEntityName, res.Entry.EntityName)
	require.Equal(t, date(2025, 1, 15), res.Entry.DueDate)

	custom := NewService(newMemoryLedgerRepo(def), Options{Clock: clockAt(2025, 1, 10), DefaultCategory: "General"})
	res, err = custom.PostCurrentPeriod(context.Background(), def.ID)
	require.NoError(t, err)
	require.Equal(t, "General", res.Entry.Category)
}

func TestPostCurrentPeriodIsIdempotent(t *testing.T) {
	repo := newMemoryLedgerRepo(rent())
	svc := NewService(repo, Options{Clock: clockAt(2025, 1, 20)})

	first, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, first.Status)

	second, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyPosted, second.Status)
	require.Nil(t, second.Entry)
	require.Equal(t, first.DueDate, second.DueDate)
	require.Equal(t, 1, repo.count())
}

func TestPostCurrentPeriodLostRace(t *testing.T) {
	repo := newMemoryLedgerRepo(rent())
	repo.existsBlind = true
	svc := NewService(repo, Options{Clock: clockAt(2025, 1, 20)})

	_, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.NoError(t, err)
	res, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyPosted, res.Status)
	require.Equal(t, 1, repo.count())
}

func TestPostCurrentPeriodConcurrent(t *testing.T) {
	repo := newMemoryLedgerRepo(rent())
	repo.existsBlind = true
	svc := NewService(repo, Options{Clock: clockAt(2025, 6, 1)})

	const workers = 24
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		posted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
			if err != nil {
				t.Errorf("post: %v", err)
				return
			}
			if res.Status == StatusPosted {
				mu.Lock()
				posted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, posted)
	require.Equal(t, 1, repo.count())
}

func TestPostCurrentPeriodNotFound(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), Options{})
	res, err := svc.PostCurrentPeriod(context.Background(), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, StatusNotFound, res.Status)

	_, err = svc.PostCurrentPeriod(context.Background(), " ")
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestPostCurrentPeriodInvalidDefinition(t *testing.T) {
	def := rent()
	def.DueDay = nil
	repo := newMemoryLedgerRepo(def)
	svc := NewService(repo, Options{})
	_, err := svc.PostCurrentPeriod(context.Background(), def.ID)
	require.ErrorIs(t, err, shared.ErrInvalidDefinition)
	require.Zero(t, repo.count())
}

func TestPostCurrentPeriodExistenceQueryFailure(t *testing.T) {
	repo := newMemoryLedgerRepo(rent())
	repo.existsErr = errors.New("statement timeout")
	svc := NewService(repo, Options{})
	_, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.ErrorIs(t, err, shared.ErrStorage)
	require.Contains(t, err.Error(), "statement timeout")
	require.Zero(t, repo.count())
}

func TestPostCurrentPeriodInsertFailure(t *testing.T) {
	repo := newMemoryLedgerRepo(rent())
	cause := errors.New("disk full")
	repo.insertErr = cause
	svc := NewService(repo, Options{})
	res, err := svc.PostCurrentPeriod(context.Background(), "def-rent")
	require.ErrorIs(t, err, cause)
	var se *shared.StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "recurring.insert_entry", se.Op)
	require.NotEqual(t, StatusPosted, res.Status)
}

func TestServiceTodayUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	svc := NewService(newMemoryLedgerRepo(), Options{
		Location: loc,
		Clock:    func() time.Time { return time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC) },
	})
	require.Equal(t, date(2025, 2, 28), svc.Today())
}

func TestPostAll(t *testing.T) {
	ended := date(2025, 1, 31)
	stillRunning := date(2025, 12, 31)

	expired := rent()
	expired.ID, expired.EntityID, expired.EndDate = "def-expired", "sup-2", &ended
	openEnded := rent()
	openEnded.ID, openEnded.EntityID, openEnded.EndDate, openEnded.OpenEnded = "def-open", "sup-3", &ended, true
	running := rent()
	running.ID, running.EntityID, running.EndDate = "def-running", "sup-4", &stillRunning
	broken := rent()
	broken.ID, broken.EntityID, broken.DueDay = "def-broken", "sup-5", nil
	inactive := rent()
	inactive.ID, inactive.Active = "def-inactive", false

	repo := newMemoryLedgerRepo(rent(), expired, openEnded, running, broken, inactive)
	svc := NewService(repo, Options{Clock: clockAt(2025, 1, 20), Concurrency: 2})

	dry, err := svc.PostAll(context.Background(), BatchOptions{Mode: shared.RunModeDry})
	require.NoError(t, err)
	require.Equal(t, 3, dry.Pending)
	require.Zero(t, repo.count())

	report, err := svc.PostAll(context.Background(), BatchOptions{Mode: shared.RunModeApply})
	require.NoError(t, err)
	require.Equal(t, "2025-01-20", report.Date)
	require.Len(t, report.Outcomes, 5)
	require.Equal(t, 3, report.Posted)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Failed)
	require.Zero(t, report.StorageErrors)
	require.Equal(t, 3, repo.count())

	byID := map[string]BatchOutcome{}
	for _, o := range report.Outcomes {
		byID[o.DefinitionID] = o
	}
	require.Equal(t, StatusSkipped, byID["def-expired"].Status)
	require.Equal(t, "2025-02-15", byID["def-expired"].DueDate)
	require.Equal(t, StatusPosted, byID["def-open"].Status)
	require.Equal(t, StatusFailed, byID["def-broken"].Status)
	require.Contains(t, byID["def-broken"].Reason, "due_day")

	again, err := svc.PostAll(context.Background(), BatchOptions{})
	require.NoError(t, err)
	require.Zero(t, again.Posted)
	require.Equal(t, 3, again.AlreadyPosted)
	require.Equal(t, 3, repo.count())
}
