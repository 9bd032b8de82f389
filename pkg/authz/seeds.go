package authz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPermissions is the permission catalog for the admin surface. Every
// permission the gate will ever evaluate must be here (or registered by the
// embedding application at startup); checks against anything else deny.
var DefaultPermissions = []Permission{
	Perm("users", "view"),
	Perm("users", "create"),
	Perm("users", "edit"),
	Perm("users", "delete"),
	Perm("users", "export"),

	Perm("roles", "view"),
	Perm("roles", "create"),
	Perm("roles", "edit"),
	Perm("roles", "delete"),
	Perm("roles", "assign"),

	Perm("departments", "view"),
	Perm("departments", "create"),
	Perm("departments", "edit"),
	Perm("departments", "delete"),

	Perm("files", "view"),
	Perm("files", "upload"),
	Perm("files", "download"),
	Perm("files", "delete"),

	Perm("settings", "view"),
	Perm("settings", "edit"),

	Perm("audit", "view"),
	Perm("audit", "export"),
	Perm("audit", "purge"),

	Perm("dashboard", "view"),
}

// RoleSeed describes one built-in role and its permission set.
type RoleSeed struct {
	Name        string
	DisplayName string
	Description string
	Level       int
	Permissions []Permission
}

// BuiltinRoles are created on first boot. The super-admin role carries no
// explicit permissions; the gate short-circuits it to allow.
func BuiltinRoles() []RoleSeed {
	return []RoleSeed{
		{
			Name:        RoleSuperAdmin,
			DisplayName: "Super Administrator",
			Description: "Unrestricted access to every resource",
			Level:       100,
		},
		{
			Name:        RoleAdmin,
			DisplayName: "Administrator",
			Description: "Full management access within scope rules",
			Level:       80,
			Permissions: DefaultPermissions,
		},
		{
			Name:        RoleManager,
			DisplayName: "Manager",
			Description: "Manages users and files in their own department",
			Level:       50,
			Permissions: []Permission{
				Perm("users", "view"),
				Perm("users", "edit"),
				Perm("users", "export"),
				Perm("departments", "view"),
				Perm("files", "view"),
				Perm("files", "upload"),
				Perm("files", "download"),
				Perm("dashboard", "view"),
			},
		},
		{
			Name:        RoleViewer,
			DisplayName: "Viewer",
			Description: "Read-only access",
			Level:       10,
			Permissions: []Permission{
				Perm("users", "view"),
				Perm("departments", "view"),
				Perm("files", "view"),
				Perm("dashboard", "view"),
			},
		},
	}
}

// Seed registers the default catalog, validates the built-in role seeds
// against it, and creates any missing permissions, roles, and grants.
// Safe to run on every boot.
func Seed(ctx context.Context, store *Store, registry *Registry) error {
	registry.Register(DefaultPermissions...)

	seeds := BuiltinRoles()
	byRole := make(map[string][]Permission, len(seeds))
	for _, seed := range seeds {
		byRole[seed.Name] = seed.Permissions
	}
	if err := registry.ValidateSeeds(byRole); err != nil {
		return err
	}

	if err := store.EnsurePermissions(ctx, registry.All()); err != nil {
		return err
	}

	for _, seed := range seeds {
		role, err := store.GetRoleByName(ctx, seed.Name)
		if errors.Is(err, ErrNotFound) {
			role = &Role{
				Name:        seed.Name,
				DisplayName: seed.DisplayName,
				Description: seed.Description,
				Guard:       GuardWeb,
				Level:       seed.Level,
				Active:      true,
				CreatedAt:   time.Now().UTC(),
			}
			if err := store.CreateRole(ctx, role); err != nil {
				return fmt.Errorf("failed to seed role %s: %w", seed.Name, err)
			}
		} else if err != nil {
			return err
		}
		for _, perm := range seed.Permissions {
			if err := store.AssignPermission(ctx, role.ID, perm); err != nil {
				return fmt.Errorf("failed to seed permission %s on role %s: %w", perm, seed.Name, err)
			}
		}
	}
	return nil
}
