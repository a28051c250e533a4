// Package tenancy resolves a user's authorization context inside a team.
//
// A tenant context exists only for active memberships. Invited members and
// non-members have none. Suspended teams yield auth.ErrTenantSuspended for
// their members, so suspension is distinguishable from absence.
//
// Tenant roles are ordered owner, admin, member, viewer. RequirePermission
// admits a member whose role is at least as privileged as the required one:
//
//	tc, err := resolver.RequirePermission(ctx, "acme", userID, auth.TenantRoleAdmin)
//	switch {
//	case errors.Is(err, auth.ErrUnauthorized): // no membership
//	case errors.Is(err, auth.ErrForbidden):    // member, not privileged enough
//	}
//
// # Cross-domain exchange
//
// Exchanger trades a one-time auth code for a session scoped to the team
// that owns the callback domain. Members carry their team role into the
// session. Non-members receive the guest role, which ranks below viewer and
// so never satisfies RequirePermission; their global role is not carried
// across the tenant boundary.
//
// Sessions are snapshots: role and tenant claims stay as issued until the
// session is re-issued or expires.
package tenancy
