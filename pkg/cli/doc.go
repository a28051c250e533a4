// Package cli implements warden-admin, the operator tool for the auth
// service's database.
//
// # Commands
//
// migrate: apply pending schema migrations
//
//	warden-admin migrate
//
// seed: install the permission catalog and the admin, moderator and user roles
//
//	warden-admin seed
//
// make-admin: promote an existing account (--role picks another global role)
//
//	warden-admin make-admin --email ops@example.com
//
// check-permissions: print effective permissions, optionally failing when one is missing
//
//	warden-admin check-permissions --email ops@example.com --require users.suspend
//
// purge-tokens: delete expired verification, reset, two-factor and auth-code tokens
//
//	warden-admin purge-tokens
//
// The database is taken from the same configuration as the server
// (WARDEN_DATABASE_URL and friends). Commands open it lazily through
// Env.Open, so usage output works without a database.
package cli
