package middleware

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// SessionVerifier verifies session tokens.
type SessionVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Session reads the session token from the cookie or bearer header and, if
// it verifies, stores the claims in the request context. Invalid or
// expired tokens are treated as no session.
func Session(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.SessionTokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				observability.FromContext(r.Context()).
					WithError(err).
					Debug("Ignoring invalid session")
				next.ServeHTTP(w, r)
				return
			}

			ctx := contextkeys.WithClaims(r.Context(), claims)
			ctx = observability.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests without session claims with 401.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := contextkeys.Claims(r.Context()); !ok {
			httputil.WriteUnauthorized(w, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
