// Package tokens stores short-lived single-use tokens.
//
// Four kinds share one table, keyed by the SHA256 of the token so that a
// database read never yields a usable token:
//
//	KindVerification  uuid, 1h, deleted on use
//	KindPasswordReset uuid, 1h, deleted on use
//	KindTwoFactor     6 digits, 1h, deleted on use
//	KindAuthCode      uuid, 5m, marked used
//
// Issue keeps at most one live token per kind and subject. Consume is
// atomic per token: the delete (or the conditional used_at update) is a
// single statement, so two concurrent consumers cannot both succeed.
package tokens
