// Package audit records user and administrator activity in the
// activity_logs table.
//
// Audit writes never fail the operation that triggered them. Callers use
// Record, which logs and swallows storage errors:
//
//	audit.Record(ctx, auditLogger, audit.Event{
//		UserID:   actorID,
//		TenantID: teamID,
//		Action:   audit.ActionTeamInvite,
//		Details:  map[string]any{"email": email, "role": role},
//	})
//
// List returns the newest entries first and is served by the admin
// activity endpoint.
package audit
