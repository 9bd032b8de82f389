package authz

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/identity"
)

// Handlers provides the HTTP surface of role and permission administration.
type Handlers struct {
	service  *Service
	registry *Registry
}

// NewHandlers creates RBAC HTTP handlers.
func NewHandlers(service *Service, registry *Registry) *Handlers {
	return &Handlers{service: service, registry: registry}
}

// RegisterRoutes registers RBAC routes on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions", h.listPermissions).Methods(http.MethodGet)
	router.HandleFunc("/roles", h.listRoles).Methods(http.MethodGet)
	router.HandleFunc("/roles", h.createRole).Methods(http.MethodPost)
	router.HandleFunc("/roles/{id}", h.getRole).Methods(http.MethodGet)
	router.HandleFunc("/roles/{id}", h.updateRole).Methods(http.MethodPut)
	router.HandleFunc("/roles/{id}", h.deleteRole).Methods(http.MethodDelete)
	router.HandleFunc("/roles/{id}/permissions", h.listRolePermissions).Methods(http.MethodGet)
	router.HandleFunc("/roles/{id}/permissions", h.grantPermission).Methods(http.MethodPost)
	router.HandleFunc("/roles/{id}/permissions/{permission}", h.revokePermission).Methods(http.MethodDelete)
	router.HandleFunc("/principals/{id}/roles", h.listPrincipalRoles).Methods(http.MethodGet)
	router.HandleFunc("/principals/{id}/roles", h.assignRole).Methods(http.MethodPost)
	router.HandleFunc("/principals/{id}/roles/{roleID}", h.removeRole).Methods(http.MethodDelete)
	router.HandleFunc("/principals/{id}/status", h.setPrincipalStatus).Methods(http.MethodPut)
}

// listPermissions handles GET /permissions, returning the full registered catalog.
func (h *Handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms := h.registry.All()
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": perms,
		"count":       len(perms),
	})
}

// listRoles handles GET /roles
func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.Store().ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

type roleRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Guard       string `json:"guard"`
	Level       int    `json:"level"`
	Active      *bool  `json:"active"`
}

// createRole handles POST /roles
func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role := &Role{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Guard:       req.Guard,
		Level:       req.Level,
		Active:      true,
	}
	if req.Active != nil {
		role.Active = *req.Active
	}

	if err := h.service.CreateRole(r.Context(), role); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// getRole handles GET /roles/{id}
func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.Store().GetRole(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// updateRole handles PUT /roles/{id}
func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	current, err := h.service.Store().GetRole(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != "" {
		current.Name = req.Name
	}
	if req.DisplayName != "" {
		current.DisplayName = req.DisplayName
	}
	if req.Description != "" {
		current.Description = req.Description
	}
	if req.Guard != "" {
		current.Guard = req.Guard
	}
	if req.Level != 0 {
		current.Level = req.Level
	}
	if req.Active != nil {
		current.Active = *req.Active
	}

	if err := h.service.UpdateRole(r.Context(), current); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, current)
}

// deleteRole handles DELETE /roles/{id}
func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listRolePermissions handles GET /roles/{id}/permissions
func (h *Handlers) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	perms, err := h.service.Store().RolePermissions(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"role_id":     id,
		"permissions": perms,
	})
}

// grantPermission handles POST /roles/{id}/permissions
func (h *Handlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Permission string `json:"permission"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Permission, "permission") {
		return
	}
	if err := h.service.GrantPermission(r.Context(), id, Permission(req.Permission)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"role_id":    id,
		"permission": req.Permission,
		"granted":    true,
	})
}

// revokePermission handles DELETE /roles/{id}/permissions/{permission}
func (h *Handlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	perm, ok := httputil.ParsePathStringOrError(w, r, "permission")
	if !ok {
		return
	}
	if err := h.service.RevokePermission(r.Context(), id, Permission(perm)); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listPrincipalRoles handles GET /principals/{id}/roles
func (h *Handlers) listPrincipalRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.service.Store().RolesOf(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": id,
		"roles":        roles,
	})
}

// assignRole handles POST /principals/{id}/roles
func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	var grantedBy *int64
	if actorID, ok := identity.PrincipalFromContext(r.Context()); ok {
		grantedBy = &actorID
	}
	if err := h.service.AssignRole(r.Context(), id, req.RoleID, grantedBy); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": id,
		"role_id":      req.RoleID,
		"assigned":     true,
	})
}

// removeRole handles DELETE /principals/{id}/roles/{roleID}
func (h *Handlers) removeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), id, roleID); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// setPrincipalStatus handles PUT /principals/{id}/status
func (h *Handlers) setPrincipalStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.WriteValidationError(w, "active is required")
		return
	}
	if err := h.service.SetPrincipalActive(r.Context(), id, *req.Active); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": id,
		"active":       *req.Active,
	})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvariant):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
