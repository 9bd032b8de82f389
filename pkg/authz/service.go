package authz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/warden/pkg/events"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/track"
)

// Service wraps the store with the mutation rules the raw store does not
// enforce: protected roles cannot be deleted, roles still assigned to
// principals cannot be deleted, permissions must exist in the registry
// before they are granted, and every mutation synchronously invalidates
// cached grants before it publishes its security event.
type Service struct {
	store    *Store
	registry *Registry
	cache    Cache
	bus      *events.Bus
	tracker  *track.Tracker
	logger   *observability.Logger
}

// NewService creates the RBAC service. cache, bus, and tracker may be nil;
// the corresponding steps are skipped.
func NewService(store *Store, registry *Registry, cache Cache, bus *events.Bus, tracker *track.Tracker, logger *observability.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		cache:    cache,
		bus:      bus,
		tracker:  tracker,
		logger:   logger,
	}
}

// Store exposes the underlying store for read paths that need no guards.
func (s *Service) Store() *Store {
	return s.store
}

// CreateRole validates and persists a new role.
func (s *Service) CreateRole(ctx context.Context, role *Role) error {
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvariant)
	}
	if role.Guard == "" {
		role.Guard = GuardWeb
	}
	if existing, err := s.store.GetRoleByName(ctx, role.Name); err == nil && existing != nil {
		return fmt.Errorf("%w: role %s already exists", ErrConflict, role.Name)
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return err
	}
	s.trackCreate(ctx, role)
	return nil
}

// UpdateRole persists role changes and drops every cached grant that
// references the role, so deactivating or renaming a role takes effect on
// the next authorization check.
func (s *Service) UpdateRole(ctx context.Context, role *Role) error {
	current, err := s.store.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if current.IsSuperAdmin() && role.Name != current.Name {
		return fmt.Errorf("%w: the %s role cannot be renamed", ErrInvariant, RoleSuperAdmin)
	}
	if err := s.store.UpdateRole(ctx, role); err != nil {
		return err
	}
	s.trackUpdate(ctx, current, role)
	return s.invalidateRole(ctx, role.ID)
}

// DeleteRole removes a role. The super-admin role is undeletable, and so is
// any role still assigned to at least one principal.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSuperAdmin() {
		return fmt.Errorf("%w: the %s role cannot be deleted", ErrInvariant, RoleSuperAdmin)
	}
	assigned, err := s.store.AssignedCount(ctx, id)
	if err != nil {
		return err
	}
	if assigned > 0 {
		return fmt.Errorf("%w: role %s is assigned to %d principals", ErrInvariant, role.Name, assigned)
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.trackDelete(ctx, role)
	return s.invalidateRole(ctx, id)
}

// GrantPermission attaches a registered permission to a role. Unknown
// permissions are rejected rather than silently created.
func (s *Service) GrantPermission(ctx context.Context, roleID int64, perm Permission) error {
	if !s.registry.Exists(perm) {
		return fmt.Errorf("%w: permission %s is not registered", ErrNotFound, perm)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.AssignPermission(ctx, roleID, perm); err != nil {
		return err
	}
	if err := s.invalidateRole(ctx, roleID); err != nil {
		return err
	}
	return s.publish(ctx, events.PermissionGranted{
		RoleID:     roleID,
		RoleName:   role.Name,
		Permission: string(perm),
	})
}

// RevokePermission detaches a permission from a role.
func (s *Service) RevokePermission(ctx context.Context, roleID int64, perm Permission) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.RevokePermission(ctx, roleID, perm); err != nil {
		return err
	}
	if err := s.invalidateRole(ctx, roleID); err != nil {
		return err
	}
	return s.publish(ctx, events.PermissionRevoked{
		RoleID:     roleID,
		RoleName:   role.Name,
		Permission: string(perm),
	})
}

// AssignRole grants a role to a principal.
func (s *Service) AssignRole(ctx context.Context, principalID, roleID int64, grantedBy *int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, principalID, roleID, grantedBy); err != nil {
		return err
	}
	if err := s.invalidatePrincipal(ctx, principalID); err != nil {
		return err
	}
	return s.publish(ctx, events.RoleAssigned{
		PrincipalID: principalID,
		RoleID:      roleID,
		RoleName:    role.Name,
	})
}

// RemoveRole removes a role from a principal.
func (s *Service) RemoveRole(ctx context.Context, principalID, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveRole(ctx, principalID, roleID); err != nil {
		return err
	}
	if err := s.invalidatePrincipal(ctx, principalID); err != nil {
		return err
	}
	return s.publish(ctx, events.RoleRemoved{
		PrincipalID: principalID,
		RoleID:      roleID,
		RoleName:    role.Name,
	})
}

// SetPrincipalActive activates or deactivates a principal. Deactivation
// takes effect immediately: the cached grant is dropped before the status
// event is published.
func (s *Service) SetPrincipalActive(ctx context.Context, principalID int64, active bool) error {
	if err := s.store.SetPrincipalActive(ctx, principalID, active); err != nil {
		return err
	}
	if err := s.invalidatePrincipal(ctx, principalID); err != nil {
		return err
	}
	return s.publish(ctx, events.StatusChanged{
		PrincipalID: principalID,
		Active:      active,
	})
}

// invalidateRole drops every cached grant held by a principal with the role.
// This runs synchronously inside the mutation so a stale grant can never
// outlive the change that revoked it.
func (s *Service) invalidateRole(ctx context.Context, roleID int64) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, roleID); err != nil {
		return fmt.Errorf("failed to invalidate cached grants for role %d: %w", roleID, err)
	}
	return nil
}

func (s *Service) invalidatePrincipal(ctx context.Context, principalID int64) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidatePrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("failed to invalidate cached grant for principal %d: %w", principalID, err)
	}
	return nil
}

// RoleKind is the entity kind roles are tracked under.
const RoleKind = "role"

// RoleLoggedFields are the role fields recorded in change entries.
var RoleLoggedFields = []string{"name", "display_name", "description", "guard", "level", "active"}

func roleState(role *Role) map[string]any {
	return map[string]any{
		"name":         role.Name,
		"display_name": role.DisplayName,
		"description":  role.Description,
		"guard":        role.Guard,
		"level":        role.Level,
		"active":       role.Active,
	}
}

func (s *Service) trackCreate(ctx context.Context, role *Role) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.RecordCreate(ctx, RoleKind, strconv.FormatInt(role.ID, 10), roleState(role)); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to record role creation")
	}
}

func (s *Service) trackUpdate(ctx context.Context, before, after *Role) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.RecordUpdate(ctx, RoleKind, strconv.FormatInt(after.ID, 10), roleState(before), roleState(after)); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to record role update")
	}
}

func (s *Service) trackDelete(ctx context.Context, role *Role) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.RecordDelete(ctx, RoleKind, strconv.FormatInt(role.ID, 10), roleState(role)); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to record role deletion")
	}
}

// publish dispatches a security event. Authorization changes audit at
// critical severity, so a failed handler surfaces to the caller instead of
// being swallowed.
func (s *Service) publish(ctx context.Context, ev events.SecurityEvent) error {
	if s.bus == nil {
		return nil
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("security event %s not fully recorded: %w", ev.Kind(), err)
	}
	return nil
}
