package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reconciler/internal/audit"
	"github.com/odyssey-erp/reconciler/internal/canon"
	"github.com/odyssey-erp/reconciler/internal/shared"
)

// ServiceOptions carries the optional collaborators of Service.
type ServiceOptions struct {
	Audit  audit.Recorder
	Locker shared.RunLocker
	Logger *slog.Logger
	Clock  func() time.Time
}

// Service handles role reconciliation.
type Service struct {
	repo   Repository
	audit  audit.Recorder
	locker shared.RunLocker
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, opts ServiceOptions) *Service {
	svc := &Service{
		repo:   repo,
		audit:  opts.Audit,
		locker: opts.Locker,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
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

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	list, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, shared.NewStorageError("roles.list", err)
	}
	return list, nil
}

// Deduplicate elects a survivor per canonical key and, in apply mode,
// deactivates every active loser. Losers are never deleted.
func (s *Service) Deduplicate(ctx context.Context, opts DedupeOptions) (DedupeReport, error) {
	if s == nil || s.repo == nil {
		return DedupeReport{}, errors.New("roles: service not configured")
	}
	mode := opts.Mode
	if mode == "" {
		mode = shared.RunModeDry
	}
	release, err := shared.AcquireRun(ctx, s.locker, "roles_dedupe")
	if err != nil {
		return DedupeReport{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release run lock", slog.Any("error", err))
		}
	}()

	list, err := s.repo.ListRoles(ctx)
	if err != nil {
		return DedupeReport{}, shared.NewStorageError("roles.list", err)
	}
	result, err := Reconcile(list)
	if err != nil {
		return DedupeReport{}, err
	}

	byID := make(map[string]Role, len(list))
	for _, r := range list {
		byID[r.ID] = r
	}
	report := DedupeReport{Mode: mode, Scanned: len(list), Groups: result.Groups, Deactivated: []string{}}

	logger := s.logger.With(slog.String("mode", string(mode)), slog.Int("groups", len(result.Groups)))
	logger.Info("starting role dedupe", slog.Int("scanned", len(list)))

	for _, group := range result.Groups {
		anyActive := false
		for _, id := range group.LoserIDs {
			loser := byID[id]
			if !loser.Active {
				continue
			}
			anyActive = true
			report.Deactivated = append(report.Deactivated, id)
			if !mode.Applies() {
				continue
			}
			if _, err := s.repo.SetRoleActive(ctx, id, false); err != nil {
				return report, shared.NewStorageError("roles.deactivate", err)
			}
			logger.Info("role deactivated", slog.String("role_id", id), slog.String("survivor_id", group.SurvivorID), slog.String("key", group.Key))
			if err := s.audit.Record(ctx, audit.Entry{
				Action:    audit.ActionRoleDeactivated,
				Subject:   "role",
				SubjectID: id,
				Detail:    map[string]any{"survivor_id": group.SurvivorID, "key": group.Key, "name": loser.Name},
			}); err != nil {
				return report, err
			}
		}

		survivor := byID[group.SurvivorID]
		if !anyActive || survivor.Active {
			continue
		}
		report.Reactivated = append(report.Reactivated, survivor.ID)
		if !mode.Applies() {
			continue
		}
		if _, err := s.repo.SetRoleActive(ctx, survivor.ID, true); err != nil {
			return report, shared.NewStorageError("roles.activate", err)
		}
		logger.Info("survivor reactivated", slog.String("role_id", survivor.ID), slog.String("key", group.Key))
		if err := s.audit.Record(ctx, audit.Entry{
			Action:    audit.ActionRoleActivated,
			Subject:   "role",
			SubjectID: survivor.ID,
			Detail:    map[string]any{"key": group.Key, "reason": "survivor of duplicate group"},
		}); err != nil {
			return report, err
		}
	}
	return report, nil
}

// EnsureRoles makes sure each named role exists and is active. Existing rows
// are matched on canonical key, so "fornecedor" satisfies "Fornecedor".
func (s *Service) EnsureRoles(ctx context.Context, opts EnsureOptions) (EnsureReport, error) {
	if s == nil || s.repo == nil {
		return EnsureReport{}, errors.New("roles: service not configured")
	}
	mode := opts.Mode
	if mode == "" {
		mode = shared.RunModeDry
	}
	names := opts.Names
	if len(names) == 0 {
		names = BaselineRoles
	}

	list, err := s.repo.ListRoles(ctx)
	if err != nil {
		return EnsureReport{}, shared.NewStorageError("roles.list", err)
	}
	byKey := make(map[string][]Role)
	for _, r := range list {
		byKey[r.Key()] = append(byKey[r.Key()], r)
	}

	report := EnsureReport{Mode: mode}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := canon.Canonicalize(name)
		if key == "" {
			return report, fmt.Errorf("roles: empty role name: %w", shared.ErrInvalidInput)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		outcome, err := s.ensureOne(ctx, mode, name, byKey[key])
		if err != nil {
			return report, err
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	return report, nil
}

func (s *Service) ensureOne(ctx context.Context, mode shared.RunMode, name string, existing []Role) (EnsureOutcome, error) {
	for _, r := range existing {
		if r.Active {
			return EnsureOutcome{Name: name, Status: EnsureAlreadyExists, RoleID: r.ID}, nil
		}
	}

	if len(existing) > 0 {
		target := existing[0]
		if len(existing) > 1 {
			res, err := Reconcile(existing)
			if err != nil {
				return EnsureOutcome{}, err
			}
			if len(res.Groups) > 0 {
				target = pick(existing, res.Groups[0].SurvivorID)
			}
		}
		if mode.Applies() {
			if _, err := s.repo.SetRoleActive(ctx, target.ID, true); err != nil {
				return EnsureOutcome{}, shared.NewStorageError("roles.activate", err)
			}
			if err := s.audit.Record(ctx, audit.Entry{
				Action:    audit.ActionRoleActivated,
				Subject:   "role",
				SubjectID: target.ID,
				Detail:    map[string]any{"name": target.Name, "reason": "baseline role"},
			}); err != nil {
				return EnsureOutcome{}, err
			}
			s.logger.Info("baseline role activated", slog.String("role_id", target.ID), slog.String("name", target.Name))
		}
		return EnsureOutcome{Name: name, Status: EnsureActivated, RoleID: target.ID}, nil
	}

	if !mode.Applies() {
		return EnsureOutcome{Name: name, Status: EnsureCreated}, nil
	}
	now := s.clock()
	created, err := s.repo.CreateRole(ctx, Role{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    true,
		CreatedAt: &now,
		UpdatedAt: now,
	})
	if errors.Is(err, shared.ErrConflict) {
		return EnsureOutcome{Name: name, Status: EnsureAlreadyExists}, nil
	}
	if err != nil {
		return EnsureOutcome{}, shared.NewStorageError("roles.create", err)
	}
	if err := s.audit.Record(ctx, audit.Entry{
		Action:    audit.ActionRoleCreated,
		Subject:   "role",
		SubjectID: created.ID,
		Detail:    map[string]any{"name": created.Name},
	}); err != nil {
		return EnsureOutcome{}, err
	}
	s.logger.Info("baseline role created", slog.String("role_id", created.ID), slog.String("name", created.Name))
	return EnsureOutcome{Name: name, Status: EnsureCreated, RoleID: created.ID}, nil
}

func pick(list []Role, id string) Role {
	for _, r := range list {
		if r.ID == id {
			return r
		}
	}
	return list[0]
}

// Resolve finds the active role matching a loose name or id. Exact canonical
// matches win over slug matches.
func (s *Service) Resolve(ctx context.Context, nameOrID string) (Role, error) {
	list, err := s.repo.ListRoles(ctx)
	if err != nil {
		return Role{}, shared.NewStorageError("roles.list", err)
	}
	key := canon.Canonicalize(nameOrID)
	slug := canon.Slug(nameOrID)
	var bySlug []Role
	for _, r := range list {
		if r.ID == nameOrID {
			return r, nil
		}
		if !r.Active {
			continue
		}
		if r.Key() == key {
			return r, nil
		}
		if slug != "" && canon.Slug(r.Name) == slug {
			bySlug = append(bySlug, r)
		}
	}
	if len(bySlug) == 1 {
		return bySlug[0], nil
	}
	if len(bySlug) > 1 {
		return Role{}, fmt.Errorf("roles: %q matches %d roles: %w", nameOrID, len(bySlug), shared.ErrInvalidInput)
	}
	return Role{}, fmt.Errorf("roles: %q: %w", nameOrID, shared.ErrNotFound)
}
