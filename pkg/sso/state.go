package sso

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
)

// StateCookieName is the cookie holding the OAuth state between redirect
// and callback.
const StateCookieName = "oauth_state"

const stateMaxAge = 600

// ErrStateMismatch is returned when the callback state does not match the
// cookie.
var ErrStateMismatch = errors.New("oauth state mismatch")

// NewState returns a random state value.
func NewState() (string, error) {
	return auth.NewTokenGenerator().GenerateHex()
}

// SetStateCookie stores state for the callback.
func SetStateCookie(w http.ResponseWriter, state string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearStateCookie removes the state cookie.
func ClearStateCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// VerifyState compares the state query parameter with the state cookie.
func VerifyState(r *http.Request) error {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return ErrStateMismatch
	}
	got := r.URL.Query().Get("state")
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(cookie.Value)) != 1 {
		return ErrStateMismatch
	}
	return nil
}
