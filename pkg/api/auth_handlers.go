package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/tenancy"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

const invalidCredentials = "Invalid email or password"

// AuthHandlers handles credential, verification and session requests
type AuthHandlers struct {
	users     *users.Store
	tokens    *tokens.Store
	sessions  *sessionWriter
	exchanger *tenancy.Exchanger
	teams     *teams.Service
	mailer    *email.Mailer
	audit     audit.Logger
	metrics   *observability.Metrics
	limiter   func(http.Handler) http.Handler
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(svc Services, opts Options) *AuthHandlers {
	return &AuthHandlers{
		users:     svc.Users,
		tokens:    svc.Tokens,
		sessions:  newSessionWriter(svc.Sessions, svc.Metrics, opts.SecureCookies),
		exchanger: svc.Exchanger,
		teams:     svc.Teams,
		mailer:    svc.Mailer,
		audit:     svc.Audit,
		metrics:   svc.Metrics,
		limiter:   svc.AuthLimiter,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	limited := func(fn http.HandlerFunc) http.Handler {
		return h.limiter(fn)
	}

	router.Handle("/register", limited(h.register)).Methods(http.MethodPost)
	router.Handle("/login", limited(h.login)).Methods(http.MethodPost)
	router.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	router.HandleFunc("/verify", h.verify).Methods(http.MethodGet)
	router.Handle("/new-verification", limited(h.newVerification)).Methods(http.MethodPost)
	router.Handle("/forgot-password", limited(h.forgotPassword)).Methods(http.MethodPost)
	router.Handle("/reset-password", limited(h.resetPassword)).Methods(http.MethodPost)
	router.Handle("/code", middleware.RequireSession(http.HandlerFunc(h.issueCode))).Methods(http.MethodPost)
	router.Handle("/exchange", limited(h.exchange)).Methods(http.MethodPost)
	router.Handle("/accept-invite", limited(h.acceptInvite)).Methods(http.MethodPost)
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := users.ValidateEmail(req.Email); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httputil.WriteAppError(w, r, auth.NewValidationError("name", "is required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	user := &auth.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         name,
		Role:         auth.GlobalRoleUser,
		IsActive:     true,
	}
	if err := h.users.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "Email already in use")
			return
		}
		httputil.WriteAppError(w, r, err)
		return
	}

	audit.Record(ctx, h.audit, audit.Event{UserID: user.ID, Action: audit.ActionRegister})
	h.sendVerification(ctx, user)

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    user,
		"message": "Confirmation email sent",
	})
}

// login handles POST /api/auth/login. Accounts with two-factor enabled
// need two calls: the first emails a code, the second supplies it.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Code     string `json:"code,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.Email == "" || req.Password == "" {
		httputil.WriteAppError(w, r, auth.NewValidationError("credentials", "email and password are required"))
		return
	}

	user, err := h.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, auth.ErrNotFound) {
		h.metrics.RecordAuthAttempt("password", observability.ResultFailure)
		httputil.WriteUnauthorized(w, invalidCredentials)
		return
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if !user.HasPassword() || !auth.CheckPassword(req.Password, user.PasswordHash) {
		h.metrics.RecordAuthAttempt("password", observability.ResultFailure)
		audit.Record(ctx, h.audit, audit.Event{UserID: user.ID, Action: audit.ActionLoginFailed})
		httputil.WriteUnauthorized(w, invalidCredentials)
		return
	}
	if !user.IsActive {
		httputil.WriteForbidden(w, "Account is disabled")
		return
	}

	if user.IsTwoFactorEnabled {
		if req.Code == "" {
			code, err := h.tokens.Issue(ctx, tokens.KindTwoFactor, user.ID)
			if err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}
			h.metrics.RecordTokenIssued(string(tokens.KindTwoFactor))
			if err := h.mailer.SendTwoFactorCode(ctx, user.Email, code.Value); err != nil {
				observability.FromContext(ctx).WithError(err).Warn("Failed to send two-factor code")
			}
			httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"twoFactor": true})
			return
		}

		if err := h.tokens.VerifyTwoFactor(ctx, user.ID, strings.TrimSpace(req.Code)); err != nil {
			h.metrics.RecordTokenConsumed(string(tokens.KindTwoFactor), observability.ResultFailure)
			h.metrics.RecordAuthAttempt("two_factor", observability.ResultFailure)
			switch {
			case errors.Is(err, auth.ErrExpired):
				httputil.WriteErrorMessage(w, http.StatusGone, "Code expired")
			case errors.Is(err, auth.ErrNotFound):
				httputil.WriteUnauthorized(w, "Invalid code")
			default:
				httputil.WriteAppError(w, r, err)
			}
			return
		}
		h.metrics.RecordTokenConsumed(string(tokens.KindTwoFactor), observability.ResultSuccess)
	}

	resp, err := h.sessions.start(w, user.Claims(), "password")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.metrics.RecordAuthAttempt("password", observability.ResultSuccess)
	audit.Record(ctx, h.audit, audit.Event{UserID: user.ID, Action: audit.ActionLogin})

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// logout handles POST /api/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if userID := contextkeys.UserID(r.Context()); userID != "" {
		audit.Record(r.Context(), h.audit, audit.Event{UserID: userID, Action: audit.ActionLogout})
	}
	h.sessions.clear(w)
	httputil.WriteNoContent(w)
}

// verify handles GET /api/auth/verify and returns the session claims
func (h *AuthHandlers) verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := contextkeys.Claims(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Unauthorized")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": claims})
}

// newVerification handles POST /api/auth/new-verification
func (h *AuthHandlers) newVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	userID, err := h.tokens.Consume(ctx, tokens.KindVerification, strings.TrimSpace(req.Token))
	if err != nil {
		h.metrics.RecordTokenConsumed(string(tokens.KindVerification), observability.ResultFailure)
		h.writeTokenError(w, r, err)
		return
	}
	h.metrics.RecordTokenConsumed(string(tokens.KindVerification), observability.ResultSuccess)

	if err := h.users.MarkEmailVerified(ctx, userID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	audit.Record(ctx, h.audit, audit.Event{UserID: userID, Action: audit.ActionEmailVerified})

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// forgotPassword handles POST /api/auth/forgot-password. It answers 200
// whether or not the address is known.
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := users.ValidateEmail(req.Email); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	ctx := r.Context()
	logger := observability.FromContext(ctx)
	user, err := h.users.GetByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, auth.ErrNotFound):
	case err != nil:
		logger.WithError(err).Error("Failed to look up user for password reset")
	default:
		tok, err := h.tokens.Issue(ctx, tokens.KindPasswordReset, user.ID)
		if err != nil {
			logger.WithError(err).Error("Failed to issue password reset token")
			break
		}
		h.metrics.RecordTokenIssued(string(tokens.KindPasswordReset))
		if err := h.mailer.SendPasswordReset(ctx, user.Email, tok.Value); err != nil {
			logger.WithError(err).Warn("Failed to send password reset email")
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Reset email sent"})
}

// resetPassword handles POST /api/auth/reset-password
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	token := strings.TrimSpace(req.Token)
	if _, err := h.tokens.Lookup(ctx, tokens.KindPasswordReset, token); err != nil {
		h.writeTokenError(w, r, err)
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	userID, err := h.tokens.Consume(ctx, tokens.KindPasswordReset, token)
	if err != nil {
		h.metrics.RecordTokenConsumed(string(tokens.KindPasswordReset), observability.ResultFailure)
		h.writeTokenError(w, r, err)
		return
	}
	h.metrics.RecordTokenConsumed(string(tokens.KindPasswordReset), observability.ResultSuccess)

	if err := h.users.SetPassword(ctx, userID, hash); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	audit.Record(ctx, h.audit, audit.Event{UserID: userID, Action: audit.ActionPasswordReset})

	if user, err := h.users.GetByID(ctx, userID); err == nil {
		if err := h.mailer.SendPasswordChanged(ctx, user.Email); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("Failed to send password changed email")
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// issueCode handles POST /api/auth/code and returns a one-time auth code
// for the session user
func (h *AuthHandlers) issueCode(w http.ResponseWriter, r *http.Request) {
	tok, err := h.exchanger.IssueCode(r.Context(), contextkeys.UserID(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"code":      tok.Value,
		"expiresAt": tok.ExpiresAt,
	})
}

// exchange handles POST /api/auth/exchange. The session is returned in the
// body for the target domain to store; the caller's own cookie is left
// untouched.
func (h *AuthHandlers) exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		CallbackURL string `json:"callbackUrl,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.exchanger.Exchange(r.Context(), req.Code, req.CallbackURL)
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// acceptInvite handles POST /api/auth/accept-invite. New accounts set
// their password here; existing accounts may omit it.
func (h *AuthHandlers) acceptInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password,omitempty"`
		Name     string `json:"name,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, team, err := h.teams.AcceptInvitation(r.Context(), strings.TrimSpace(req.Token), req.Password, req.Name)
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}

	resp, err := h.sessions.start(w, user.Claims(), "invitation")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":      resp.User,
		"expiresAt": resp.ExpiresAt,
		"team":      team,
	})
}

func (h *AuthHandlers) sendVerification(ctx context.Context, user *auth.User) {
	logger := observability.FromContext(ctx).WithField("user_id", user.ID)
	tok, err := h.tokens.Issue(ctx, tokens.KindVerification, user.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to issue verification token")
		return
	}
	h.metrics.RecordTokenIssued(string(tokens.KindVerification))
	if err := h.mailer.SendVerification(ctx, user.Email, tok.Value); err != nil {
		logger.WithError(err).Warn("Failed to send verification email")
	}
}

// writeTokenError gives token lifecycle failures user-facing messages.
func (h *AuthHandlers) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrAlreadyUsed):
		httputil.WriteErrorMessage(w, http.StatusConflict, "Token has already been used")
	case errors.Is(err, auth.ErrExpired) && !errors.Is(err, auth.ErrUnauthenticated):
		httputil.WriteErrorMessage(w, http.StatusGone, "Token has expired")
	case errors.Is(err, auth.ErrNotFound):
		httputil.WriteErrorMessage(w, http.StatusNotFound, "Token does not exist")
	default:
		httputil.WriteAppError(w, r, err)
	}
}

// sessionResponse is returned by every endpoint that signs a user in.
type sessionResponse struct {
	User      auth.Claims `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// sessionWriter issues session tokens and keeps the cookie in step.
type sessionWriter struct {
	sessions *auth.SessionManager
	metrics  *observability.Metrics
	secure   bool
}

func newSessionWriter(sessions *auth.SessionManager, metrics *observability.Metrics, secure bool) *sessionWriter {
	return &sessionWriter{sessions: sessions, metrics: metrics, secure: secure}
}

func (s *sessionWriter) start(w http.ResponseWriter, claims auth.Claims, kind string) (*sessionResponse, error) {
	token, expiresAt, err := s.sessions.Issue(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	auth.SetSessionCookie(w, token, expiresAt, s.secure)
	s.metrics.RecordSessionIssued(kind)
	return &sessionResponse{User: claims, ExpiresAt: expiresAt}, nil
}

func (s *sessionWriter) clear(w http.ResponseWriter) {
	auth.ClearSessionCookie(w, s.secure)
}
