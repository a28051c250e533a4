// Package rbac implements global role-based access control with per-user
// permission overrides.
//
// # Model
//
// Every user resolves to one Role: users.role_id when set, otherwise the
// role named by the legacy users.role alias. A Role owns a set of
// Permissions named resource.action. An Override is a (user, permission,
// granted) tuple that wins over the role in both directions.
//
// # Resolution
//
// Resolver is the only place permission questions are answered:
//
//	resolver := rbac.NewResolver(store, rbac.WithCache(rbac.NewLocalCache(0, time.Minute)))
//	if resolver.HasPermission(ctx, userID, rbac.PermRolesUpdate) {
//		...
//	}
//
// A per-user Snapshot (role permissions plus overrides) is loaded in one
// statement, cached, and shared between concurrent callers. Errors deny.
//
// # Administration
//
// Admin mutates roles, role permissions, overrides and role assignments,
// records each change in the activity log, and invalidates the affected
// snapshots before returning. Unknown permission names passed to
// CreateRole or UpdateRolePermissions are skipped and reported in
// RoleResult.Skipped.
//
// # Caching
//
// LocalCache suits a single instance. RedisCache shares snapshots between
// instances. Both version their entries: a fill records the generation it
// started under and is discarded if any instance invalidated since.
//
// Global permission middleware refuses sessions scoped to a single tenant.
package rbac
