// Package api provides the Warden HTTP server.
//
// # Overview
//
// The server is built on gorilla/mux. Handlers are grouped by surface and
// each group registers itself on a subrouter:
//
//   - /api/auth: registration, credential login with optional two-factor
//     codes, logout, email verification, password reset, cross-domain code
//     exchange, invitation acceptance and social login
//   - /api/user: the signed-in user's profile, metadata, settings and
//     linked identities
//   - /api/teams: team lifecycle, members, invitations and team roles,
//     gated by the caller's role in the team named by {slug}
//   - /api/admin: global roles and permissions, user listing, tenant
//     suspension and the activity log, gated by RBAC permissions
//   - /health/live, /health/ready and /metrics for operations
//
// # Middleware
//
// Every request passes through, outermost first: request ID and scoped
// logger, access logging, panic recovery, request info for the activity
// log, session decoding and the route guard. The route guard redirects
// anonymous browsers away from protected pages and keeps signed-in users
// off the login pages; /admin pages additionally require admin.access.
// Prometheus instrumentation runs on matched routes only, labelled by the
// route template.
//
// # Usage
//
//	srv := api.NewServer(api.Options{SecureCookies: true, Version: version}, api.Services{
//		DB:       db,
//		Sessions: sessions,
//		Users:    userStore,
//		// ...
//	})
//	http.ListenAndServe(":8080", srv)
//
// Errors from the service packages are mapped to status codes by
// httputil.WriteAppError, so handlers return the service error unchanged
// unless the response needs a specific message.
package api
