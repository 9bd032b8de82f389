package authz

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/identity"
)

// RequirePermission gates a handler behind a permission check. Requests
// without an authenticated principal get 401; authenticated principals who
// fail the check get 403. The check is fail-closed: any resolution problem
// is a denial.
func RequirePermission(gate *Gate, perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if err := gate.Require(r.Context(), principalID, perm); err != nil {
				httputil.WriteForbidden(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny gates a handler behind a set of alternatives; holding any one
// of the permissions is enough.
func RequireAny(gate *Gate, perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := identity.PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			for _, perm := range perms {
				if gate.Can(r.Context(), principalID, perm) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "permission denied")
		})
	}
}
