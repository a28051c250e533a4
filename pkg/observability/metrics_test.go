package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthAttempt("password", ResultSuccess)
		m.RecordPermissionCheck(ResultDenied)
		m.RecordTokensPurged(4)
		m.RecordEmail("verification", ResultFailure)
	})
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAuthAttempt("password", ResultFailure)
	m.RecordAuthAttempt("password", ResultFailure)
	m.RecordPermissionCheck(ResultAllowed)
	m.RecordTokenConsumed("auth_code", ResultSuccess)
	m.RecordTokensPurged(3)
	m.RecordTokensPurged(0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthAttemptsTotal.WithLabelValues("password", ResultFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues(ResultAllowed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TokensConsumedTotal.WithLabelValues("auth_code", ResultSuccess)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TokensPurgedTotal))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/teams/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/teams/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/teams/{id}", "404")))

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "warden_http_requests_total"))
}
