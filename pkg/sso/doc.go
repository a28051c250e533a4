// Package sso implements social sign-in with GitHub and Google and links
// the resulting external identities to local users.
//
// # Providers
//
// A Provider turns an OAuth authorization code into a Profile: a stable
// provider-scoped id plus a verified email address.
//
// GitHub: golang.org/x/oauth2 code exchange followed by GET /user. GitHub
// omits private emails from /user, in which case GET /user/emails is called
// and the primary, verified address is used.
//
// Google: OpenID Connect discovery and ID token verification with
// github.com/coreos/go-oidc/v3. Addresses Google has not verified are
// rejected.
//
// # Linking
//
// Linker.LinkOrRegister resolves a Profile to a user:
//
//  1. An identity for (provider, provider id) returns its owner.
//  2. Otherwise a user with the same email is reused.
//  3. Otherwise a verified user without a password is created.
//  4. The identity row is inserted with ON CONFLICT DO NOTHING.
//
// Two callbacks racing for the same identity both end up with the user that
// won the insert, so repeated calls never create duplicate users or
// identities.
//
// # State
//
// NewState and SetStateCookie store a random value in a short-lived
// oauth_state cookie before redirecting to the provider; VerifyState
// compares it with the state query parameter on the callback.
//
//	state, err := sso.NewState()
//	sso.SetStateCookie(w, state, secure)
//	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
package sso
