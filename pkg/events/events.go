// Package events implements the security event bus: a typed, synchronous
// dispatch mechanism for security-relevant happenings (logins, role
// changes, exports) that routes each event to pre-registered handlers.
package events

import "github.com/platinummonkey/warden/pkg/audit"

// SecurityEvent is the closed union of security event variants. Each
// concrete type identifies itself through Kind.
type SecurityEvent interface {
	Kind() audit.Event
}

// Login is a successful authentication.
type Login struct {
	PrincipalID int64
	Email       string
}

func (Login) Kind() audit.Event { return audit.EventLogin }

// Logout is a session termination.
type Logout struct {
	PrincipalID int64
}

func (Logout) Kind() audit.Event { return audit.EventLogout }

// LoginFailed is a failed authentication attempt. No principal is attached:
// the actor was never authenticated.
type LoginFailed struct {
	Email  string
	Reason string
}

func (LoginFailed) Kind() audit.Event { return audit.EventLoginFailed }

// PasswordChanged is a credential rotation for a principal.
type PasswordChanged struct {
	PrincipalID int64
}

func (PasswordChanged) Kind() audit.Event { return audit.EventPasswordChanged }

// RoleAssigned is a role grant to a principal.
type RoleAssigned struct {
	PrincipalID int64
	RoleID      int64
	RoleName    string
}

func (RoleAssigned) Kind() audit.Event { return audit.EventRoleAssigned }

// RoleRemoved is a role removal from a principal.
type RoleRemoved struct {
	PrincipalID int64
	RoleID      int64
	RoleName    string
}

func (RoleRemoved) Kind() audit.Event { return audit.EventRoleRemoved }

// PermissionGranted is a permission grant to a role.
type PermissionGranted struct {
	RoleID     int64
	RoleName   string
	Permission string
}

func (PermissionGranted) Kind() audit.Event { return audit.EventPermissionGranted }

// PermissionRevoked is a permission revocation from a role.
type PermissionRevoked struct {
	RoleID     int64
	RoleName   string
	Permission string
}

func (PermissionRevoked) Kind() audit.Event { return audit.EventPermissionRevoked }

// StatusChanged is an activation or deactivation of a principal.
type StatusChanged struct {
	PrincipalID int64
	Active      bool
}

func (StatusChanged) Kind() audit.Event { return audit.EventStatusChanged }

// SuspiciousActivity flags anomalous behavior for investigation.
type SuspiciousActivity struct {
	PrincipalID *int64
	Description string
}

func (SuspiciousActivity) Kind() audit.Event { return audit.EventSuspiciousActivity }

// DataExported is a bulk read of sensitive data.
type DataExported struct {
	Resource string
	Format   string
	Rows     int
}

func (DataExported) Kind() audit.Event { return audit.EventDataExported }

// BulkOperation is a mass mutation across many records.
type BulkOperation struct {
	Resource string
	Action   string
	Affected int64
}

func (BulkOperation) Kind() audit.Event { return audit.EventBulkOperation }
