package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/sso"
)

// Redirect targets for the browser-facing social login flow.
const (
	socialSuccessPath = "/dashboard"
	socialErrorPath   = "/login"
)

// SocialHandlers runs the OAuth redirect and callback for social login
type SocialHandlers struct {
	providers *sso.Registry
	linker    *sso.Linker
	sessions  *sessionWriter
	audit     audit.Logger
	metrics   *observability.Metrics
}

// NewSocialHandlers creates social login handlers
func NewSocialHandlers(svc Services, opts Options) *SocialHandlers {
	return &SocialHandlers{
		providers: svc.Providers,
		linker:    svc.Linker,
		sessions:  newSessionWriter(svc.Sessions, svc.Metrics, opts.SecureCookies),
		audit:     svc.Audit,
		metrics:   svc.Metrics,
	}
}

// RegisterRoutes registers the provider routes
func (h *SocialHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/providers", h.listProviders).Methods(http.MethodGet)
	router.HandleFunc("/{provider}/login", h.login).Methods(http.MethodGet)
	router.HandleFunc("/{provider}/callback", h.callback).Methods(http.MethodGet)
}

// listProviders handles GET /api/auth/providers
func (h *SocialHandlers) listProviders(w http.ResponseWriter, r *http.Request) {
	names := h.providers.Names()
	if names == nil {
		names = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"providers": names})
}

// login handles GET /api/auth/{provider}/login
func (h *SocialHandlers) login(w http.ResponseWriter, r *http.Request) {
	provider, err := h.providers.Get(mux.Vars(r)["provider"])
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	state, err := sso.NewState()
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	sso.SetStateCookie(w, state, h.sessions.secure)
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// callback handles GET /api/auth/{provider}/callback. Failures redirect
// back to the login page with an error code.
func (h *SocialHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["provider"]
	logger := observability.FromContext(ctx).WithField("provider", name)

	provider, err := h.providers.Get(name)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	fail := func(code string, err error) {
		h.metrics.RecordAuthAttempt(name, observability.ResultFailure)
		logger.WithError(err).Warn("Social login failed")
		http.Redirect(w, r, socialErrorPath+"?error="+url.QueryEscape(code), http.StatusFound)
	}

	if err := sso.VerifyState(r); err != nil {
		fail("OAuthStateError", err)
		return
	}
	sso.ClearStateCookie(w, h.sessions.secure)

	if e := r.URL.Query().Get("error"); e != "" {
		fail("OAuthAccessDenied", &providerError{code: e})
		return
	}

	profile, err := provider.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		fail("OAuthCallbackError", err)
		return
	}

	user, err := h.linker.LinkOrRegister(ctx, *profile)
	if err != nil {
		fail("OAuthAccountNotLinked", err)
		return
	}
	if !user.IsActive {
		fail("AccountDisabled", errAccountDisabled)
		return
	}

	if _, err := h.sessions.start(w, user.Claims(), name); err != nil {
		fail("SessionError", err)
		return
	}
	h.metrics.RecordAuthAttempt(name, observability.ResultSuccess)
	audit.Record(ctx, h.audit, audit.Event{
		UserID:  user.ID,
		Action:  audit.ActionSocialLogin,
		Details: map[string]any{"provider": name},
	})

	http.Redirect(w, r, socialSuccessPath, http.StatusFound)
}

var errAccountDisabled = errors.New("account is disabled")

type providerError struct {
	code string
}

func (e *providerError) Error() string {
	return "provider returned error: " + e.code
}
