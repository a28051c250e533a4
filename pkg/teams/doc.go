// Package teams manages tenants: teams, their memberships, invitations and
// custom team role labels.
//
// A team may name a parent team. Parent changes are checked at write time
// by walking the proposed parent's ancestors; a team can never become its
// own ancestor.
//
// Memberships are either invited or active. Inviting an unknown email
// creates a placeholder user whose credential is replaced when the
// invitation is accepted. Invitation tokens are returned once and stored
// hashed.
//
// Authorization is not performed here; callers resolve the caller's tenant
// role first (see package tenancy).
package teams
