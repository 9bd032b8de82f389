// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application must be defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the authenticated principal ID (int64)
	// Set by: authentication middleware
	// Used by: authz gate checks, entity lifecycle tracking, audit actor_id
	PrincipalKey Key = "principal_id"

	// RequestContextKey contains *identity.RequestContext
	// Set by: audit.Middleware (pkg/audit/middleware.go)
	// Used by: entity lifecycle tracking, security event handlers
	RequestContextKey Key = "request_context"
)
