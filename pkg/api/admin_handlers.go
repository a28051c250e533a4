package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/users"
)

// AdminHandlers serves the operator console endpoints that are not part of
// role management.
type AdminHandlers struct {
	users    *users.Store
	teams    *teams.Service
	activity audit.Reader
	audit    audit.Logger
	checker  rbac.Checker
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(svc Services) *AdminHandlers {
	return &AdminHandlers{
		users:    svc.Users,
		teams:    svc.Teams,
		activity: svc.Activity,
		audit:    svc.Audit,
		checker:  svc.RBAC,
	}
}

// RegisterRoutes registers the admin routes. Each route requires
// admin.access plus its own permission; the session requirement comes from
// the parent router.
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	gate := func(perm string, fn http.HandlerFunc) http.Handler {
		return rbac.RequireAllPermissions(h.checker, rbac.PermAdminAccess, perm)(fn)
	}

	router.Handle("/users", gate(rbac.PermUsersView, h.listUsers)).Methods(http.MethodGet)
	router.Handle("/users/{id}/active", gate(rbac.PermUsersSuspend, h.setUserActive)).Methods(http.MethodPost)
	router.Handle("/tenants/{id}/suspend", gate(rbac.PermSettingsManage, h.suspendTenant)).Methods(http.MethodPost)
	router.Handle("/activity", gate(rbac.PermLogsView, h.listActivity)).Methods(http.MethodGet)
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	if limit, err = httputil.ParseQueryInt(r, "limit", defaultLimit); err != nil {
		return 0, 0, err
	}
	if offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, auth.NewValidationError("offset", "must not be negative")
	}
	return limit, offset, nil
}

// listUsers handles GET /api/admin/users
func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r, 100)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	list, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*auth.User{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users":  list,
		"limit":  limit,
		"offset": offset,
	})
}

// setUserActive handles POST /api/admin/users/{id}/active
func (h *AdminHandlers) setUserActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.WriteAppError(w, r, auth.NewValidationError("active", "is required"))
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if id == contextkeys.UserID(ctx) && !*req.Active {
		httputil.WriteAppError(w, r, auth.NewValidationError("id", "cannot deactivate your own account"))
		return
	}
	if err := h.users.SetActive(ctx, id, *req.Active); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	audit.Record(ctx, h.audit, audit.Event{
		UserID:  contextkeys.UserID(ctx),
		Action:  audit.ActionUserActive,
		Details: map[string]any{"targetUserId": id, "active": *req.Active},
	})

	user, err := h.users.GetByID(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// suspendTenant handles POST /api/admin/tenants/{id}/suspend
func (h *AdminHandlers) suspendTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Suspended *bool `json:"suspended"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Suspended == nil {
		httputil.WriteAppError(w, r, auth.NewValidationError("suspended", "is required"))
		return
	}

	ctx := r.Context()
	team, err := h.teams.SetSuspended(ctx, contextkeys.UserID(ctx), mux.Vars(r)["id"], *req.Suspended)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, team)
}

// listActivity handles GET /api/admin/activity
func (h *AdminHandlers) listActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": []audit.Event{}})
		return
	}

	limit, offset, err := pagination(r, audit.DefaultListLimit)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	q := r.URL.Query()
	events, err := h.activity.List(r.Context(), audit.Filter{
		Limit:    limit,
		Offset:   offset,
		TenantID: q.Get("tenantId"),
		UserID:   q.Get("userId"),
		Action:   q.Get("action"),
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
