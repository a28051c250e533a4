package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by the counters below.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal   *prometheus.CounterVec
	SessionsIssuedTotal *prometheus.CounterVec

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec
	PermissionCacheTotal  *prometheus.CounterVec
	PermissionFillSeconds prometheus.Histogram

	// Token metrics
	TokensIssuedTotal   *prometheus.CounterVec
	TokensConsumedTotal *prometheus.CounterVec
	TokensPurgedTotal   prometheus.Counter

	// Email metrics
	EmailsSentTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics. A nil registerer
// leaves the collectors unregistered, which is what tests usually want.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_auth_attempts_total",
				Help: "Authentication attempts by method and result",
			},
			[]string{"method", "result"},
		),
		SessionsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_sessions_issued_total",
				Help: "Session tokens issued, by kind (plain or tenant)",
			},
			[]string{"kind"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_checks_total",
				Help: "Permission checks by result",
			},
			[]string{"result"},
		),
		PermissionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_cache_total",
				Help: "Permission snapshot cache lookups by result",
			},
			[]string{"result"},
		),
		PermissionFillSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_permission_fill_duration_seconds",
				Help:    "Time spent loading a permission snapshot from the database",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tokens_issued_total",
				Help: "One-time tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokensConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tokens_consumed_total",
				Help: "One-time token redemptions by kind and result",
			},
			[]string{"kind", "result"},
		),
		TokensPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_tokens_purged_total",
				Help: "Expired one-time tokens removed by the purge job",
			},
		),
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_emails_sent_total",
				Help: "Outbound emails by template and result",
			},
			[]string{"template", "result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.AuthAttemptsTotal,
			m.SessionsIssuedTotal,
			m.PermissionChecksTotal,
			m.PermissionCacheTotal,
			m.PermissionFillSeconds,
			m.TokensIssuedTotal,
			m.TokensConsumedTotal,
			m.TokensPurgedTotal,
			m.EmailsSentTotal,
			m.RateLimitedTotal,
			m.DBConnectionsOpen,
			m.DBConnectionsInUse,
		)
	}

	// instrument creation only fails on invalid names
	m.otel, _ = NewOTelMetrics(nil)
	return m
}

// WithOTel replaces the OTel instruments the Record helpers mirror to.
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	m.otel = o
	return m
}

// The Record helpers accept a nil receiver so components can run without metrics.

func (m *Metrics) RecordAuthAttempt(method, result string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(method, result).Inc()
	m.otel.recordAuthAttempt(method, result)
}

func (m *Metrics) RecordSessionIssued(kind string) {
	if m == nil {
		return
	}
	m.SessionsIssuedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPermissionCheck(result string) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(result).Inc()
	m.otel.recordPermissionCheck(result)
}

func (m *Metrics) RecordPermissionCache(result string) {
	if m == nil {
		return
	}
	m.PermissionCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePermissionFill(d time.Duration) {
	if m == nil {
		return
	}
	m.PermissionFillSeconds.Observe(d.Seconds())
}

func (m *Metrics) RecordTokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordTokenConsumed(kind, result string) {
	if m == nil {
		return
	}
	m.TokensConsumedTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordTokensPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensPurgedTotal.Add(float64(n))
	m.otel.recordTokensPurged(n)
}

func (m *Metrics) RecordEmail(template, result string) {
	if m == nil {
		return
	}
	m.EmailsSentTotal.WithLabelValues(template, result).Inc()
	m.otel.recordEmail(template, result)
}

func (m *Metrics) RecordRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template so ids do not explode cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
