package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sso"
	"github.com/platinummonkey/warden/pkg/users"
)

// UserHandlers serves the signed-in user's own account
type UserHandlers struct {
	users    *users.Store
	rbac     *rbac.Resolver
	linker   *sso.Linker
	sessions *sessionWriter
	audit    audit.Logger
}

// NewUserHandlers creates user handlers
func NewUserHandlers(svc Services, opts Options) *UserHandlers {
	return &UserHandlers{
		users:    svc.Users,
		rbac:     svc.RBAC,
		linker:   svc.Linker,
		sessions: newSessionWriter(svc.Sessions, svc.Metrics, opts.SecureCookies),
		audit:    svc.Audit,
	}
}

// RegisterRoutes registers the /api/user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.Use(middleware.RequireSession)
	router.HandleFunc("", h.getUser).Methods(http.MethodGet)
	router.HandleFunc("", h.updateMetadata).Methods(http.MethodPatch)
	router.HandleFunc("/settings", h.updateSettings).Methods(http.MethodPatch)
	router.HandleFunc("/identities", h.listIdentities).Methods(http.MethodGet)
}

// getUser handles GET /api/user
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.users.GetByID(ctx, contextkeys.UserID(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	permissions := h.rbac.GetUserPermissions(ctx, user.ID)
	if permissions == nil {
		permissions = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":        user,
		"permissions": permissions,
	})
}

// updateMetadata handles PATCH /api/user. The userMetadata object is
// shallow-merged into the stored metadata.
func (h *UserHandlers) updateMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMetadata auth.Metadata `json:"userMetadata"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.UserMetadata) == 0 {
		httputil.WriteAppError(w, r, auth.NewValidationError("userMetadata", "must be a non-empty object"))
		return
	}

	ctx := r.Context()
	userID := contextkeys.UserID(ctx)
	merged, err := h.users.MergeUserMetadata(ctx, userID, req.UserMetadata)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	audit.Record(ctx, h.audit, audit.Event{UserID: userID, Action: audit.ActionMetadataUpdate})

	h.refreshSession(w, r, func(c *auth.Claims) { c.UserMetadata = merged })
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"userMetadata": merged})
}

// updateSettings handles PATCH /api/user/settings
func (h *UserHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req users.Settings
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	user, err := h.users.UpdateSettings(ctx, contextkeys.UserID(ctx), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	audit.Record(ctx, h.audit, audit.Event{UserID: user.ID, Action: audit.ActionSettingsUpdate})

	h.refreshSession(w, r, func(c *auth.Claims) { c.Name = user.Name })
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// listIdentities handles GET /api/user/identities
func (h *UserHandlers) listIdentities(w http.ResponseWriter, r *http.Request) {
	identities := []*auth.Identity{}
	if h.linker != nil {
		found, err := h.linker.Identities(r.Context(), contextkeys.UserID(r.Context()))
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if found != nil {
			identities = found
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"identities": identities})
}

// refreshSession re-issues the session so profile fields carried in the
// token follow the change. Role and tenant claims are kept as issued.
func (h *UserHandlers) refreshSession(w http.ResponseWriter, r *http.Request, update func(*auth.Claims)) {
	current, ok := contextkeys.Claims(r.Context())
	if !ok {
		return
	}
	claims := *current
	update(&claims)
	if _, err := h.sessions.start(w, claims, "refresh"); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to refresh session")
	}
}
