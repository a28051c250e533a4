package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sso"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/tenancy"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// outbox records every message the mailer sends.
type outbox struct {
	mu   sync.Mutex
	msgs []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

// last returns the most recent message sent to addr with template name.
func (o *outbox) last(t *testing.T, to, template string) email.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].To == to && o.msgs[i].Template == template {
			return o.msgs[i]
		}
	}
	t.Fatalf("no %s email sent to %s", template, to)
	return email.Message{}
}

var (
	linkTokenRe = regexp.MustCompile(`token=([0-9a-f-]+)`)
	codeRe      = regexp.MustCompile(`letter-spacing: 5px;">(\d{6})<`)
)

func (o *outbox) linkToken(t *testing.T, to, template string) string {
	t.Helper()
	m := linkTokenRe.FindStringSubmatch(o.last(t, to, template).HTML)
	require.Len(t, m, 2, "no token link in %s email", template)
	return m[1]
}

func (o *outbox) twoFactorCode(t *testing.T, to string) string {
	t.Helper()
	m := codeRe.FindStringSubmatch(o.last(t, to, email.TemplateTwoFactor).HTML)
	require.Len(t, m, 2, "no code in two-factor email")
	return m[1]
}

// fakeProvider is an OAuth provider that returns a fixed profile.
type fakeProvider struct {
	profile *sso.Profile
	err     error
}

func (p *fakeProvider) Name() string { return "github" }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*sso.Profile, error) {
	if p.err != nil {
		return nil, p.err
	}
	if code == "" {
		return nil, auth.NewValidationError("code", "is required")
	}
	profile := *p.profile
	return &profile, nil
}

type testServer struct {
	t        *testing.T
	db       *sql.DB
	server   *Server
	users    *users.Store
	teams    *teams.Service
	sessions *auth.SessionManager
	outbox   *outbox
	provider *fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db := storage.NewTestDB(t)
	require.NoError(t, rbac.Seed(ctx, db))

	sessions, err := auth.NewSessionManager([]byte(testSecret))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	logger := observability.NopLogger()
	auditLog := audit.NewDBLogger(db)

	userStore := users.NewStore(db)
	tokenStore := tokens.NewStore(db)
	teamService := teams.NewService(db, userStore, teams.WithAudit(auditLog))
	tenants := tenancy.NewResolver(db, teamService)
	rbacStore := rbac.NewStore(db)
	resolver := rbac.NewResolver(rbacStore)
	box := &outbox{}
	provider := &fakeProvider{profile: &sso.Profile{
		Provider:   "github",
		ProviderID: "gh-1",
		Email:      "octo@example.com",
		Name:       "Octo Cat",
	}}

	svc := Services{
		DB:        db,
		Logger:    logger,
		Metrics:   metrics,
		Gatherer:  registry,
		Sessions:  sessions,
		Users:     userStore,
		Tokens:    tokenStore,
		Teams:     teamService,
		Tenants:   tenants,
		Exchanger: tenancy.NewExchanger(tokenStore, userStore, tenants, sessions, auditLog, metrics),
		RBAC:      resolver,
		RBACAdmin: rbac.NewAdmin(rbacStore, resolver, auditLog, logger),
		Audit:     auditLog,
		Activity:  auditLog,
		Mailer:    email.NewMailer(box, "https://app.example.com", "Warden"),
		Providers: sso.NewRegistry(provider),
		Linker:    sso.NewLinker(db, userStore, sso.WithAudit(auditLog)),
		AuthLimiter: func(next http.Handler) http.Handler {
			return next
		},
	}

	return &testServer{
		t:        t,
		db:       db,
		server:   NewServer(Options{Version: "test"}, svc),
		users:    userStore,
		teams:    teamService,
		sessions: sessions,
		outbox:   box,
		provider: provider,
	}
}

// createUser stores an active, verified user with password "password123".
func (s *testServer) createUser(email string, role auth.GlobalRole) *auth.User {
	s.t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(s.t, err)
	u := &auth.User{Email: email, PasswordHash: hash, Name: "Test User", Role: role, IsActive: true, EmailVerified: true}
	require.NoError(s.t, s.users.Create(context.Background(), u))
	return u
}

// sessionFor returns a session token for u without going through login.
func (s *testServer) sessionFor(u *auth.User) string {
	s.t.Helper()
	token, _, err := s.sessions.Issue(u.Claims())
	require.NoError(s.t, err)
	return token
}

// do sends a request with an optional JSON body and session token.
func (s *testServer) do(method, path, session string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: session})
	}
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}
