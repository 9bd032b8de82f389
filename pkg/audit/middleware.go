package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/identity"
)

// Middleware attaches request metadata to the context so downstream audit
// writes (lifecycle tracking, security events) can record where an action
// came from without touching the *http.Request themselves.
type Middleware struct{}

// NewMiddleware creates the request-context capture middleware.
func NewMiddleware() *Middleware {
	return &Middleware{}
}

// Handler wraps an HTTP handler, populating the identity request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &identity.RequestContext{
			URL:       r.URL.RequestURI(),
			Method:    r.Method,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			RequestID: requestID(r),
		}
		ctx := identity.WithRequestContext(r.Context(), rc)
		w.Header().Set("X-Request-Id", rc.RequestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// clientIP resolves the originating client address, preferring proxy
// headers over the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ContextMetadata flattens the request context into audit entry metadata.
func ContextMetadata(rc *identity.RequestContext) map[string]any {
	if rc == nil {
		return nil
	}
	meta := make(map[string]any, 5)
	if rc.URL != "" {
		meta["url"] = rc.URL
	}
	if rc.Method != "" {
		meta["method"] = rc.Method
	}
	if rc.IPAddress != "" {
		meta["ip_address"] = rc.IPAddress
	}
	if rc.UserAgent != "" {
		meta["user_agent"] = rc.UserAgent
	}
	if rc.RequestID != "" {
		meta["request_id"] = rc.RequestID
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
