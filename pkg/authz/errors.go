package authz

import "errors"

var (
	// ErrNotFound indicates a referenced role, permission, or principal does not exist
	ErrNotFound = errors.New("authz: not found")

	// ErrDenied indicates the authorization gate rejected a required permission
	ErrDenied = errors.New("authz: permission denied")

	// ErrInvariant indicates a protected role invariant would be violated
	// (deleting super-admin, or deleting a role with assigned principals)
	ErrInvariant = errors.New("authz: invariant violation")

	// ErrConflict indicates a uniqueness conflict (duplicate role name)
	ErrConflict = errors.New("authz: already exists")
)
