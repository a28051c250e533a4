// Package users persists user accounts.
//
// The flat users.role column is kept as an alias of a system role. Create
// and SetGlobalRole resolve it into users.role_id in the same statement, so
// downstream permission checks only ever follow role_id.
package users
