// Package identity carries the authenticated principal and request metadata
// through context. Components that need the current actor take it from here
// explicitly rather than from any ambient global.
package identity

import (
	"context"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// RequestContext captures the HTTP request metadata attached to audit
// entries: where the request came from and what it targeted.
type RequestContext struct {
	URL       string `json:"url,omitempty"`
	Method    string `json:"method,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WithPrincipal attaches the authenticated principal ID to the context.
func WithPrincipal(ctx context.Context, principalID int64) context.Context {
	return context.WithValue(ctx, contextkeys.PrincipalKey, principalID)
}

// PrincipalFromContext returns the authenticated principal ID, if any.
// System-initiated operations carry no principal.
func PrincipalFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(contextkeys.PrincipalKey).(int64)
	return id, ok
}

// WithRequestContext attaches request metadata to the context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, contextkeys.RequestContextKey, rc)
}

// RequestContextFrom returns the request metadata attached to the context,
// or nil when the operation did not originate from an HTTP request.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(contextkeys.RequestContextKey).(*RequestContext)
	return rc
}
