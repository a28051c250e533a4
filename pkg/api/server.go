package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/sso"
	"github.com/platinummonkey/warden/pkg/teams"
	"github.com/platinummonkey/warden/pkg/tenancy"
	"github.com/platinummonkey/warden/pkg/tokens"
	"github.com/platinummonkey/warden/pkg/users"
)

// Options holds HTTP-level settings.
type Options struct {
	// SecureCookies marks session and state cookies Secure.
	SecureCookies bool

	// Version is reported by the health endpoints.
	Version string

	// ServiceName names the otelhttp server span. Tracing is skipped when empty.
	ServiceName string

	// Pages serves non-API paths behind the route guard. Unknown paths
	// return 404 when nil.
	Pages http.Handler
}

// Services are the components the handlers are built on. Metrics, Gatherer,
// Health, Audit, Activity, Providers, Linker and AuthLimiter are optional.
type Services struct {
	DB        *sql.DB
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Health    *observability.HealthChecker
	Sessions  *auth.SessionManager
	Users     *users.Store
	Tokens    *tokens.Store
	Teams     *teams.Service
	Tenants   *tenancy.Resolver
	Exchanger *tenancy.Exchanger
	RBAC      *rbac.Resolver
	RBACAdmin *rbac.Admin
	Audit     audit.Logger
	Activity  audit.Reader
	Mailer    *email.Mailer
	Providers *sso.Registry
	Linker    *sso.Linker

	// AuthLimiter throttles credential endpoints. An in-memory limiter is
	// used when nil.
	AuthLimiter func(http.Handler) http.Handler
}

// Server is the Warden HTTP API.
type Server struct {
	router  *mux.Router
	handler http.Handler
	svc     Services
	opts    Options
}

// NewServer wires every route and the middleware chain.
func NewServer(opts Options, svc Services) *Server {
	if svc.Logger == nil {
		svc.Logger = observability.NopLogger()
	}
	if svc.Audit == nil {
		svc.Audit = audit.NoOpLogger{}
	}
	if svc.Health == nil {
		svc.Health = observability.NewHealthChecker(svc.DB, nil, opts.Version)
	}
	if svc.Gatherer == nil {
		svc.Gatherer = prometheus.DefaultGatherer
	}
	if svc.AuthLimiter == nil {
		svc.AuthLimiter = middleware.NewRateLimiter(middleware.DefaultAuthRateLimitConfig(), svc.Metrics).Handler
	}

	s := &Server{
		router: mux.NewRouter(),
		svc:    svc,
		opts:   opts,
	}
	s.setupRoutes()

	guard := middleware.DefaultGuardConfig(svc.RBAC, rbac.PermAdminAccess)
	s.handler = middleware.Chain(
		middleware.RequestID(svc.Logger),
		middleware.Logging,
		middleware.Recovery,
		requestInfo,
		middleware.Session(svc.Sessions),
		middleware.RouteGuard(guard),
	)(s.router)

	if opts.ServiceName != "" {
		s.handler = otelhttp.NewHandler(s.handler, opts.ServiceName)
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Metrics(s.svc.Metrics))

	// Ops routes
	s.router.HandleFunc("/health/live", s.svc.Health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.svc.Health.Readiness).Methods(http.MethodGet)
	s.router.Handle("/metrics", observability.MetricsHandler(s.svc.Gatherer)).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	authRouter := api.PathPrefix("/auth").Subrouter()
	NewAuthHandlers(s.svc, s.opts).RegisterRoutes(authRouter)
	NewSocialHandlers(s.svc, s.opts).RegisterRoutes(authRouter)
	NewUserHandlers(s.svc, s.opts).RegisterRoutes(api.PathPrefix("/user").Subrouter())
	NewTeamHandlers(s.svc).RegisterRoutes(api.PathPrefix("/teams").Subrouter())

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireSession)
	rbac.NewHandlers(s.svc.RBACAdmin, s.svc.RBAC).RegisterRoutes(admin)
	NewAdminHandlers(s.svc).RegisterRoutes(admin)

	if s.opts.Pages != nil {
		s.router.NotFoundHandler = s.opts.Pages
	} else {
		s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
		})
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// requestInfo makes the caller's address and user agent available to
// activity log entries recorded further down.
func requestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithRequestInfo(r.Context(), httputil.ClientIP(r), r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
