package authz

import (
	"strings"
	"time"
)

// Permission is an atomic capability string in the form "<resource>.<action>",
// e.g. "users.edit". Permissions are flat; there is no hierarchy between them.
type Permission string

// Perm builds a permission identifier from a resource and an action.
func Perm(resource, action string) Permission {
	return Permission(resource + "." + action)
}

// Resource returns the "<resource>" part of the permission identifier.
func (p Permission) Resource() string {
	if i := strings.IndexByte(string(p), '.'); i > 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Action returns the "<action>" part of the permission identifier.
func (p Permission) Action() string {
	if i := strings.IndexByte(string(p), '.'); i >= 0 && i < len(p)-1 {
		return string(p)[i+1:]
	}
	return ""
}

// Guard namespaces roles by authorization context (web console vs. API clients).
const (
	GuardWeb = "web"
	GuardAPI = "api"
)

// Built-in role names.
const (
	// RoleSuperAdmin implicitly satisfies every permission check and can
	// never be deleted.
	RoleSuperAdmin = "super-admin"

	// RoleAdmin holds elevated scope: it passes department-scoped resource
	// checks regardless of the principal's own department.
	RoleAdmin = "admin"

	RoleManager = "manager"
	RoleViewer  = "viewer"
)

// Role is a named, reusable bundle of permissions assignable to principals.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Guard       string    `json:"guard"`
	Level       int       `json:"level"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsSuperAdmin reports whether this is the protected superuser role.
func (r Role) IsSuperAdmin() bool {
	return r.Name == RoleSuperAdmin
}

// Principal is an authenticated actor capable of being granted roles.
// DepartmentID is a weak reference used only by scoped authorization checks.
type Principal struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Active       bool      `json:"active"`
	DepartmentID *int64    `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Resource identifies a concrete object a permission check may be scoped to.
// A zero Resource means the check is unscoped.
type Resource struct {
	Kind         string `json:"kind"`
	ID           string `json:"id,omitempty"`
	DepartmentID *int64 `json:"department_id,omitempty"`
	OwnerID      *int64 `json:"owner_id,omitempty"`
}

// Scoped reports whether this resource carries scope information that the
// gate must additionally verify.
func (r Resource) Scoped() bool {
	return r.DepartmentID != nil || r.OwnerID != nil
}
