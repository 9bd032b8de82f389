// Package httputil provides the JSON request/response helpers and the
// low-level HTTP middleware shared by all API handlers.
//
// # Responses
//
// Every error response carries the same JSON shape, {"error": "..."}:
//
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, role)
//	httputil.WriteValidationError(w, "name is required")
//	httputil.WriteForbidden(w, "missing permission: roles.edit")
//
// # Request parsing
//
// The OrError variants write the 400 response themselves and report
// whether the handler should continue:
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
//
// # Middleware
//
// RecoveryMiddleware, ContentTypeMiddleware, and MaxBytesMiddleware are
// installed by the API server; see pkg/api.
package httputil
