package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// ServiceOptions carries the optional collaborators of Service.
type ServiceOptions struct {
	Audit  audit.Recorder
	Locker shared.RunLocker
	Logger *slog.Logger
	Clock  func() time.Time
}

// Service manages entity role assignments.
type Service struct {
	repo   Repository
	audit  audit.Recorder
	locker shared.RunLocker
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, opts ServiceOptions) *Service {
	svc := &Service{repo: repo, audit: opts.Audit, locker: opts.Locker, logger: opts.Logger, clock: opts.Clock}
	if svc.audit == nil {
		svc.audit = audit.Discard
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.clock == nil {
		svc.clock = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// ParseAction accepts "add" or "remove".
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionAdd:
		return ActionAdd, nil
	case ActionRemove:
		return ActionRemove, nil
	default:
		return "", fmt.Errorf("assignments: unknown action %q: %w", raw, shared.ErrInvalidInput)
	}
}

// Upsert adds or removes the assignment for (entityID, roleID). Both actions are
// idempotent: a second add returns already_exists and a second remove returns
// not_found, neither as an error. Concurrent adds for one pair are arbitrated by
// the storage uniqueness constraint.
func (s *Service) Upsert(ctx context.Context, entityID, roleID string, action Action) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, errors.New("assignments: service not configured")
	}
	entityID = strings.TrimSpace(entityID)
	roleID = strings.TrimSpace(roleID)
	if entityID == "" || roleID == "" {
		return Result{}, fmt.Errorf("assignments: entity and role are required: %w", shared.ErrInvalidInput)
	}
	logger := s.logger.With(slog.String("entity_id", entityID), slog.String("role_id", roleID), slog.String("action", string(action)))

	switch action {
	case ActionAdd:
		id, inserted, err := s.repo.InsertAssignment(ctx, Assignment{
			ID:        uuid.NewString(),
			EntityID:  entityID,
			RoleID:    roleID,
			Active:    true,
			CreatedAt: s.clock(),
		})
		if errors.Is(err, shared.ErrNotFound) {
			return Result{}, fmt.Errorf("assignments: entity %s or role %s: %w", entityID, roleID, shared.ErrNotFound)
		}
		if errors.Is(err, shared.ErrConflict) {
			logger.Debug("assignment already exists")
			return Result{Status: StatusAlreadyExists}, nil
		}
		if err != nil {
			return Result{}, shared.NewStorageError("assignments.insert", err)
		}
		if !inserted {
			logger.Debug("assignment already exists")
			return Result{Status: StatusAlreadyExists, AssignmentID: id}, nil
		}
		logger.Info("assignment created", slog.String("assignment_id", id))
		return Result{Status: StatusCreated, AssignmentID: id}, nil
	case ActionRemove:
		id, removed, err := s.repo.DeleteAssignment(ctx, entityID, roleID)
		if err != nil {
			return Result{}, shared.NewStorageError("assignments.delete", err)
		}
		if !removed {
			logger.Debug("assignment not found")
			return Result{Status: StatusNotFound}, nil
		}
		logger.Info("assignment removed", slog.String("assignment_id", id))
		return Result{Status: StatusRemoved, AssignmentID: id}, nil
	default:
		return Result{}, fmt.Errorf("assignments: unknown action %q: %w", action, shared.ErrInvalidInput)
	}
}

// Deduplicate keeps the smallest id of every (entity, role) pair and, in apply
// mode, deletes the other rows. Only needed on stores that predate the unique
// index.
func (s *Service) Deduplicate(ctx context.Context, opts DedupeOptions) (DedupeReport, error) {
	if s == nil || s.repo == nil {
		return DedupeReport{}, errors.New("assignments: service not configured")
	}
	mode := opts.Mode
	if mode == "" {
		mode = shared.RunModeDry
	}
	release, err := shared.AcquireRun(ctx, s.locker, "assignments_dedupe")
	if err != nil {
		return DedupeReport{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release run lock", slog.Any("error", err))
		}
	}()

	rows, err := s.repo.ListAssignments(ctx)
	if err != nil {
		return DedupeReport{}, shared.NewStorageError("assignments.list", err)
	}
	report := DedupeReport{Mode: mode, Scanned: len(rows), Groups: DuplicateGroups(rows)}
	s.logger.Info("starting assignment dedupe", slog.String("mode", string(mode)), slog.Int("scanned", len(rows)), slog.Int("groups", len(report.Groups)))
	if !mode.Applies() {
		return report, nil
	}
	for _, g := range report.Groups {
		for _, id := range g.Dropped {
			deleted, err := s.repo.DeleteAssignmentByID(ctx, id)
			if err != nil {
				return report, shared.NewStorageError("assignments.delete_duplicate", err)
			}
			if !deleted {
				continue
			}
			report.Deleted++
			if err := s.audit.Record(ctx, audit.Entry{
				Action:    audit.ActionAssignmentDuplicateDrop,
				Subject:   "entity_role",
				SubjectID: id,
				Detail:    map[string]any{"entity_id": g.EntityID, "role_id": g.RoleID, "kept_id": g.KeptID},
			}); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// DuplicateGroups finds pairs held by more than one row, sorted by pair.
func DuplicateGroups(rows []Assignment) []DuplicateGroup {
	type pair struct{ entity, role string }
	byPair := make(map[pair][]string)
	for _, r := range rows {
		k := pair{r.EntityID, r.RoleID}
		byPair[k] = append(byPair[k], r.ID)
	}
	groups := []DuplicateGroup{}
	for k, ids := range byPair {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		groups = append(groups, DuplicateGroup{EntityID: k.entity, RoleID: k.role, KeptID: ids[0], Dropped: ids[1:]})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].EntityID != groups[j].EntityID {
			return groups[i].EntityID < groups[j].EntityID
		}
		return groups[i].RoleID < groups[j].RoleID
	})
	return groups
}
