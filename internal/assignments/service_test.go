package assignments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

type pairKey struct{ entity, role string }

// memoryAssignmentRepo mirrors the storage contract: the pair index is checked
// and written under one lock, like a unique index would.
type memoryAssignmentRepo struct {
	mu        sync.Mutex
	rows      map[string]Assignment
	pairs     map[pairKey]string
	entities  map[string]bool
	roles     map[string]bool
	unique    bool
	insertErr error
}

func newMemoryAssignmentRepo() *memoryAssignmentRepo {
	return &memoryAssignmentRepo{
		rows:     make(map[string]Assignment),
		pairs:    make(map[pairKey]string),
		entities: map[string]bool{"e-1": true, "e-2": true},
		roles:    map[string]bool{"r-1": true, "r-2": true},
		unique:   true,
	}
}

func (r *memoryAssignmentRepo) InsertAssignment(ctx context.Context, a Assignment) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return "", false, r.insertErr
	}
	if !r.entities[a.EntityID] || !r.roles[a.RoleID] {
		return "", false, shared.ErrNotFound
	}
	key := pairKey{a.EntityID, a.RoleID}
	if id, ok := r.pairs[key]; ok && r.unique {
		return id, false, nil
	}
	r.rows[a.ID] = a
	r.pairs[key] = a.ID
	return a.ID, true, nil
}

func (r *memoryAssignmentRepo) DeleteAssignment(ctx context.Context, entityID, roleID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{entityID, roleID}
	id, ok := r.pairs[key]
	if !ok {
		return "", false, nil
	}
	delete(r.pairs, key)
	delete(r.rows, id)
	return id, true, nil
}

func (r *memoryAssignmentRepo) ListAssignments(ctx context.Context) ([]Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Assignment, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryAssignmentRepo) DeleteAssignmentByID(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *memoryAssignmentRepo) countPair(entity, role string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.rows {
		if a.EntityID == entity && a.RoleID == role {
			n++
		}
	}
	return n
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

func TestUpsertAddIsIdempotent(t *testing.T) {
	repo := newMemoryAssignmentRepo()
	svc := NewService(repo, ServiceOptions{})

	first, err := svc.Upsert(context.Background(), "e-1", "r-1", ActionAdd)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, first.Status)
	require.NotEmpty(t, first.AssignmentID)

	second, err := svc.Upsert(context.Background(), "e-1", "r-1", ActionAdd)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyExists, second.Status)
	require.Equal(t, first.AssignmentID, second.AssignmentID)
	require.Equal(t, 1, repo.countPair("e-1", "r-1"))
}

func TestUpsertRemoveThenRemove(t *testing.T) {
	repo := newMemoryAssignmentRepo()
	svc := NewService(repo, ServiceOptions{})

	_, err := svc.Upsert(context.Background(), "e-1", "r-2", ActionAdd)
	require.NoError(t, err)

	res, err := svc.Upsert(context.Background(), "e-1", "r-2", ActionRemove)
	require.NoError(t, err)
	require.Equal(t, StatusRemoved, res.Status)

	for i := 0; i < 3; i++ {
		res, err = svc.Upsert(context.Background(), "e-1", "r-2", ActionRemove)
		require.NoError(t, err)
		require.Equal(t, StatusNotFound, res.Status)
	}
	require.Zero(t, repo.countPair("e-1", "r-2"))
}

func TestUpsertMissingReference(t *testing.T) {
	svc := NewService(newMemoryAssignmentRepo(), ServiceOptions{})
	_, err := svc.Upsert(context.Background(), "e-404", "r-1", ActionAdd)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.False(t, shared.IsStorage(err))
}

func TestUpsertConflictMapsToAlreadyExists(t *testing.T) {
	repo := newMemoryAssignmentRepo()
	repo.insertErr = shared.ErrConflict
	svc := NewService(repo, ServiceOptions{})
	res, err := svc.Upsert(context.Background(), "e-1", "r-1", ActionAdd)
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyExists, res.Status)
}

func TestUpsertStorageError(t *testing.T) {
	repo := newMemoryAssignmentRepo()
	cause := errors.New("connection reset by peer")
	repo.insertErr = cause
	svc := NewService(repo, ServiceOptions{})
	_, err := svc.Upsert(context.Background(), "e-1", "r-1", ActionAdd)
	require.ErrorIs(t, err, shared.ErrStorage)
	require.ErrorIs(t, err, cause)
}

func TestUpsertValidation(t *testing.T) {
	svc := NewService(newMemoryAssignmentRepo(), ServiceOptions{})
	_, err := svc.Upsert(context.Background(), "", "r-1", ActionAdd)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = svc.Upsert(context.Background(), "e-1", " ", ActionRemove)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = svc.Upsert(context.Background(), "e-1", "r-1", Action("toggle"))
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestParseAction(t *testing.T) {
	action, err := ParseAction(" ADD ")
	require.NoError(t, err)
	require.Equal(t, ActionAdd, action)
	action, err = ParseAction("remove")
	require.NoError(t, err)
	require.Equal(t, ActionRemove, action)
	_, err = ParseAction("upsert")
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestUpsertConcurrentAdds(t *testing.T) {
	repo := newMemoryAssignmentRepo()
	svc := NewService(repo, ServiceOptions{})

	const workers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[Status]int{}
		ids      = map[string]struct{}{}
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Upsert(context.Background(), "e-2", "r-1", ActionAdd)
			require.NoError(t, err)
			mu.Lock()
			statuses[res.Status]++
			ids[res.AssignmentID] = struct{}{}
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, statuses[StatusCreated])
	require.Equal(t, workers-1, statuses[StatusAlreadyExists])
	require.Len(t, ids, 1)
	require.Equal(t, 1, repo.countPair("e-2", "r-1"))
}

func TestDeduplicateKeepsSmallestID(t *testing.T) {
	repo := newMemoryAssignmentRepo()
	repo.unique = false
	for _, a := range []Assignment{
		{ID: "a-3", EntityID: "e-1", RoleID: "r-1"},
		{ID: "a-1", EntityID: "e-1", RoleID: "r-1"},
		{ID: "a-2", EntityID: "e-1", RoleID: "r-1"},
		{ID: "a-4", EntityID: "e-1", RoleID: "r-2"},
		{ID: "a-6", EntityID: "e-2", RoleID: "r-2"},
		{ID: "a-5", EntityID: "e-2", RoleID: "r-2"},
	} {
		_, _, err := repo.InsertAssignment(context.Background(), a)
		require.NoError(t, err)
	}
	rec := &recordingAudit{}
	svc := NewService(repo, ServiceOptions{Audit: rec})

	dry, err := svc.Deduplicate(context.Background(), DedupeOptions{})
	require.NoError(t, err)
	require.Equal(t, shared.RunModeDry, dry.Mode)
	require.Equal(t, 6, dry.Scanned)
	require.Equal(t, []DuplicateGroup{
		{EntityID: "e-1", RoleID: "r-1", KeptID: "a-1", Dropped: []string{"a-2", "a-3"}},
		{EntityID: "e-2", RoleID: "r-2", KeptID: "a-5", Dropped: []string{"a-6"}},
	}, dry.Groups)
	require.Zero(t, dry.Deleted)
	require.Equal(t, 6, len(repo.rows))

	applied, err := svc.Deduplicate(context.Background(), DedupeOptions{Mode: shared.RunModeApply})
	require.NoError(t, err)
	require.Equal(t, 3, applied.Deleted)
	require.Equal(t, 1, repo.countPair("e-1", "r-1"))
	require.Equal(t, 1, repo.countPair("e-2", "r-2"))
	require.Len(t, rec.entries, 3)
	require.Equal(t, "a-1", rec.entries[0].Detail["kept_id"])

	again, err := svc.Deduplicate(context.Background(), DedupeOptions{Mode: shared.RunModeApply})
	require.NoError(t, err)
	require.False(t, again.Pending())
}
