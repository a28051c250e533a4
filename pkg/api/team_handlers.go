package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/tenancy"
)

// TeamHandlers serves team management. Routes under /{slug} resolve the
// tenant context first and require a minimum team role.
type TeamHandlers struct {
	teams   *teams.Service
	tenants *tenancy.Resolver
	mailer  *email.Mailer
}

// NewTeamHandlers creates team handlers
func NewTeamHandlers(svc Services) *TeamHandlers {
	return &TeamHandlers{teams: svc.Teams, tenants: svc.Tenants, mailer: svc.Mailer}
}

// RegisterRoutes registers the /api/teams routes
func (h *TeamHandlers) RegisterRoutes(router *mux.Router) {
	router.Use(middleware.RequireSession)

	router.HandleFunc("", h.listTeams).Methods(http.MethodGet)
	router.HandleFunc("", h.createTeam).Methods(http.MethodPost)

	tenant := func(role auth.TenantRole, fn http.HandlerFunc) http.Handler {
		return middleware.TenantContext(h.tenants, role)(fn)
	}

	router.Handle("/{slug}", tenant(auth.TenantRoleViewer, h.getTeam)).Methods(http.MethodGet)
	router.Handle("/{slug}", tenant(auth.TenantRoleAdmin, h.updateTeam)).Methods(http.MethodPatch)
	router.Handle("/{slug}", tenant(auth.TenantRoleOwner, h.deleteTeam)).Methods(http.MethodDelete)
	router.Handle("/{slug}/context", tenant(auth.TenantRoleViewer, h.getContext)).Methods(http.MethodGet)
	router.Handle("/{slug}/children", tenant(auth.TenantRoleViewer, h.listChildren)).Methods(http.MethodGet)

	router.Handle("/{slug}/members", tenant(auth.TenantRoleViewer, h.listMembers)).Methods(http.MethodGet)
	router.Handle("/{slug}/invite", tenant(auth.TenantRoleAdmin, h.invite)).Methods(http.MethodPost)
	router.Handle("/{slug}/members/{userId}", tenant(auth.TenantRoleAdmin, h.updateMember)).Methods(http.MethodPatch)
	router.Handle("/{slug}/members/{userId}", tenant(auth.TenantRoleAdmin, h.removeMember)).Methods(http.MethodDelete)

	router.Handle("/{slug}/roles", tenant(auth.TenantRoleViewer, h.listRoles)).Methods(http.MethodGet)
	router.Handle("/{slug}/roles", tenant(auth.TenantRoleOwner, h.createRole)).Methods(http.MethodPost)
}

func tenantFrom(r *http.Request) *tenancy.Context {
	tc, _ := tenancy.FromContext(r.Context())
	return tc
}

// listTeams handles GET /api/teams
func (h *TeamHandlers) listTeams(w http.ResponseWriter, r *http.Request) {
	memberships, err := h.teams.ListForUser(r.Context(), contextkeys.UserID(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []*teams.Membership{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"teams": memberships})
}

// createTeam handles POST /api/teams
func (h *TeamHandlers) createTeam(w http.ResponseWriter, r *http.Request) {
	var req teams.CreateTeamInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	team, err := h.teams.Create(r.Context(), contextkeys.UserID(r.Context()), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, team)
}

// getTeam handles GET /api/teams/{slug}
func (h *TeamHandlers) getTeam(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r)
	team, err := h.teams.GetByID(r.Context(), tc.TeamID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, teams.Membership{Team: *team, Role: tc.Role})
}

// updateTeam handles PATCH /api/teams/{slug}
func (h *TeamHandlers) updateTeam(w http.ResponseWriter, r *http.Request) {
	var req teams.UpdateTeamInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	team, err := h.teams.Update(r.Context(), contextkeys.UserID(r.Context()), tenantFrom(r).TeamID, req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, team)
}

// deleteTeam handles DELETE /api/teams/{slug}
func (h *TeamHandlers) deleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := h.teams.Delete(r.Context(), contextkeys.UserID(r.Context()), tenantFrom(r).TeamID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// getContext handles GET /api/teams/{slug}/context
func (h *TeamHandlers) getContext(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, tenantFrom(r))
}

// listChildren handles GET /api/teams/{slug}/children
func (h *TeamHandlers) listChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.teams.Children(r.Context(), tenantFrom(r).TeamID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if children == nil {
		children = []*teams.Team{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"teams": children})
}

// listMembers handles GET /api/teams/{slug}/members
func (h *TeamHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.teams.ListMembers(r.Context(), tenantFrom(r).TeamID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if members == nil {
		members = []*teams.Member{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

// invite handles POST /api/teams/{slug}/invite and emails the invitation
func (h *TeamHandlers) invite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string          `json:"email"`
		Role  auth.TenantRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = auth.TenantRoleMember
	}

	ctx := r.Context()
	claims, _ := contextkeys.Claims(ctx)
	tc := tenantFrom(r)
	inv, err := h.teams.Invite(ctx, tc.TeamID, claims.UserID, req.Email, req.Role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	inviter := claims.Name
	if inviter == "" {
		inviter = claims.Email
	}
	if err := h.mailer.SendInvitation(ctx, email.Invitation{
		To:         inv.Email,
		Team:       inv.Team.Name,
		Inviter:    inviter,
		Role:       string(inv.Role),
		Token:      inv.Token,
		NewAccount: inv.NewAccount,
	}); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to send invitation email")
	}

	httputil.WriteJSON(w, http.StatusCreated, inv)
}

// updateMember handles PATCH /api/teams/{slug}/members/{userId}
func (h *TeamHandlers) updateMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role auth.TenantRole `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	tc := tenantFrom(r)
	member, err := h.teams.UpdateMemberRole(r.Context(), tc.UserID, tc.Role, tc.TeamID, mux.Vars(r)["userId"], req.Role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, member)
}

// removeMember handles DELETE /api/teams/{slug}/members/{userId}
func (h *TeamHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	tc := tenantFrom(r)
	if err := h.teams.RemoveMember(r.Context(), tc.UserID, tc.Role, tc.TeamID, mux.Vars(r)["userId"]); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listRoles handles GET /api/teams/{slug}/roles
func (h *TeamHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.teams.ListTeamRoles(r.Context(), tenantFrom(r).TeamID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if roles == nil {
		roles = []*teams.TeamRole{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"builtin": auth.BuiltinTenantRoles(),
		"custom":  roles,
	})
}

// createRole handles POST /api/teams/{slug}/roles
func (h *TeamHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	tc := tenantFrom(r)
	role, err := h.teams.CreateTeamRole(r.Context(), tc.UserID, tc.TeamID, req.Name, req.Description)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, role)
}
