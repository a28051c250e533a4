package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/teams"
)

// Resolver resolves tenant contexts from active memberships.
type Resolver struct {
	db    *sql.DB
	teams *teams.Service
}

// NewResolver creates a Resolver.
func NewResolver(db *sql.DB, teamService *teams.Service) *Resolver {
	return &Resolver{db: db, teams: teamService}
}

// ResolveContext returns the user's context in the team with the given
// slug. It fails with auth.ErrUnauthorized when the user has no active
// membership and auth.ErrTenantSuspended when the team is suspended.
func (r *Resolver) ResolveContext(ctx context.Context, userID, slug string) (*Context, error) {
	if userID == "" || slug == "" {
		return nil, auth.ErrUnauthorized
	}

	tc := &Context{UserID: userID}
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.slug, t.name, t.domain, t.parent_team_id, t.is_suspended, tm.role
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE t.slug = $1 AND tm.user_id = $2 AND tm.status = $3`,
		slug, userID, string(teams.MemberStatusActive),
	).Scan(&tc.TeamID, &tc.Slug, &tc.Name, &tc.Domain, &tc.ParentTeamID, &tc.IsSuspended, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant context: %w", err)
	}
	tc.Role = auth.TenantRole(role)

	if tc.IsSuspended {
		return nil, auth.ErrTenantSuspended
	}
	return tc, nil
}

// RequirePermission resolves the context and checks that the member's role
// is at least required.
func (r *Resolver) RequirePermission(ctx context.Context, slug, userID string, required auth.TenantRole) (*Context, error) {
	tc, err := r.ResolveContext(ctx, userID, slug)
	if err != nil {
		return nil, err
	}
	if !tc.Allows(required) {
		return nil, fmt.Errorf("%w: requires %s role", auth.ErrForbidden, required)
	}
	return tc, nil
}

// TeamByDomain returns the team bound to the host of urlOrDomain.
func (r *Resolver) TeamByDomain(ctx context.Context, urlOrDomain string) (*teams.Team, error) {
	return r.teams.GetByDomain(ctx, urlOrDomain)
}

// MemberRole returns the user's role in the team, or "" when the user has
// no active membership.
func (r *Resolver) MemberRole(ctx context.Context, teamID, userID string) (auth.TenantRole, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM team_members WHERE team_id = $1 AND user_id = $2 AND status = $3`,
		teamID, userID, string(teams.MemberStatusActive)).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return auth.TenantRole(role), nil
}
