package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/identity"
)

// PrincipalHeader carries the authenticated principal's ID, resolved by the
// fronting auth layer. The API trusts it the way it trusts any gateway
// header, so it must never be reachable without that layer.
const PrincipalHeader = "X-Principal-Id"

// HeaderAuthenticator resolves the calling principal from PrincipalHeader.
// Requests without the header proceed unauthenticated; permission
// middleware rejects them where authentication is required.
func HeaderAuthenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(PrincipalHeader); raw != "" {
			principalID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid principal header")
				return
			}
			r = r.WithContext(identity.WithPrincipal(r.Context(), principalID))
		}
		next.ServeHTTP(w, r)
	})
}

// auditAuthorization gates audit routes: export needs audit.export, the
// purge needs audit.purge, everything else needs audit.view.
func auditAuthorization(gate *authz.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			perm := authz.Perm("audit", "view")
			switch {
			case strings.Contains(r.URL.Path, "/audit/export"):
				perm = authz.Perm("audit", "export")
			case r.Method == http.MethodDelete:
				perm = authz.Perm("audit", "purge")
			}
			requirePermission(gate, perm, next).ServeHTTP(w, r)
		})
	}
}

// rbacAuthorization gates role administration routes by method and target.
func rbacAuthorization(gate *authz.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			perm := authz.Perm("roles", "view")
			switch {
			case strings.Contains(r.URL.Path, "/principals/") && strings.HasSuffix(r.URL.Path, "/status"):
				perm = authz.Perm("users", "edit")
			case strings.Contains(r.URL.Path, "/principals/"):
				if r.Method != http.MethodGet {
					perm = authz.Perm("roles", "assign")
				}
			case strings.Contains(r.URL.Path, "/permissions") && strings.Contains(r.URL.Path, "/roles/"):
				if r.Method != http.MethodGet {
					perm = authz.Perm("roles", "edit")
				}
			case r.Method == http.MethodPost:
				perm = authz.Perm("roles", "create")
			case r.Method == http.MethodPut:
				perm = authz.Perm("roles", "edit")
			case r.Method == http.MethodDelete:
				perm = authz.Perm("roles", "delete")
			}
			requirePermission(gate, perm, next).ServeHTTP(w, r)
		})
	}
}

func requirePermission(gate *authz.Gate, perm authz.Permission, next http.Handler) http.Handler {
	if gate == nil {
		return next
	}
	return authz.RequirePermission(gate, perm)(next)
}
