package rbac

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// Handlers provides HTTP handlers for role and permission administration
type Handlers struct {
	admin    *Admin
	resolver *Resolver
}

// NewHandlers creates new RBAC handlers
func NewHandlers(admin *Admin, resolver *Resolver) *Handlers {
	return &Handlers{admin: admin, resolver: resolver}
}

// RegisterRoutes registers the admin RBAC routes on router, which is
// expected to be mounted at /api/admin behind session middleware. Each
// route is gated by its own permission.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	guard := func(permission string, fn http.HandlerFunc) http.Handler {
		return RequirePermission(h.resolver, permission)(fn)
	}

	router.Handle("/roles", guard(PermRolesView, h.ListRoles)).Methods(http.MethodGet)
	router.Handle("/roles", guard(PermRolesCreate, h.CreateRole)).Methods(http.MethodPost)
	router.Handle("/roles/{id}", guard(PermRolesView, h.GetRole)).Methods(http.MethodGet)
	router.Handle("/roles/{id}", guard(PermRolesUpdate, h.UpdateRole)).Methods(http.MethodPatch)
	router.Handle("/roles/{id}", guard(PermRolesDelete, h.DeleteRole)).Methods(http.MethodDelete)
	router.Handle("/roles/{id}/permissions", guard(PermRolesUpdate, h.UpdateRolePermissions)).Methods(http.MethodPut)

	// Anyone who can view or edit roles needs the catalog.
	router.Handle("/permissions", RequireAnyPermission(h.resolver, PermRolesView, PermRolesCreate, PermRolesUpdate)(http.HandlerFunc(h.ListPermissions))).Methods(http.MethodGet)

	router.Handle("/users/{id}/role", guard(PermUsersUpdate, h.AssignRole)).Methods(http.MethodPut)
	router.Handle("/users/{id}/permissions", guard(PermUsersView, h.GetUserPermissions)).Methods(http.MethodGet)
	router.Handle("/users/{id}/permissions", guard(PermUsersUpdate, h.SetUserPermission)).Methods(http.MethodPost)
	router.Handle("/users/{id}/permissions", guard(PermUsersUpdate, h.RemoveUserPermission)).Methods(http.MethodDelete)
}

// ListRoles lists all roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

// CreateRole creates a new custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	result, err := h.admin.CreateRole(r.Context(), contextkeys.UserID(r.Context()), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// GetRole returns a role with its permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.admin.GetRole(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// UpdateRole changes a custom role's name or description
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.admin.UpdateRole(r.Context(), contextkeys.UserID(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, role)
}

// UpdateRolePermissions replaces a role's permission set
func (h *Handlers) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	result, err := h.admin.UpdateRolePermissions(r.Context(), contextkeys.UserID(r.Context()), mux.Vars(r)["id"], req.Permissions)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// DeleteRole deletes a custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteRole(r.Context(), contextkeys.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListPermissions lists the permission catalog grouped by category
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	categories, err := h.admin.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// AssignRole sets a user's global role
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID string `json:"roleId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.admin.AssignRole(r.Context(), contextkeys.UserID(r.Context()), mux.Vars(r)["id"], req.RoleID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"role": role})
}

// GetUserPermissions returns a user's role, overrides and effective permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	detail, err := h.admin.UserPermissionDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

// SetUserPermission grants or revokes a permission override
func (h *Handlers) SetUserPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permission string `json:"permission"`
		Granted    *bool  `json:"granted"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Granted == nil {
		httputil.WriteBadRequest(w, "granted: is required")
		return
	}

	ctx := r.Context()
	actorID, userID := contextkeys.UserID(ctx), mux.Vars(r)["id"]
	var err error
	if *req.Granted {
		err = h.admin.GrantPermission(ctx, actorID, userID, req.Permission)
	} else {
		err = h.admin.RevokePermission(ctx, actorID, userID, req.Permission)
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.GetUserPermissions(w, r)
}

// RemoveUserPermission removes an override named by the permission query parameter
func (h *Handlers) RemoveUserPermission(w http.ResponseWriter, r *http.Request) {
	permission := r.URL.Query().Get("permission")
	if permission == "" {
		httputil.WriteBadRequest(w, "permission: is required")
		return
	}
	if err := h.admin.RemoveOverride(r.Context(), contextkeys.UserID(r.Context()), mux.Vars(r)["id"], permission); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.GetUserPermissions(w, r)
}
