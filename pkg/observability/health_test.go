package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthChecker_Check(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		checker := NewHealthChecker(db, pingerFunc(func(context.Context) error { return nil }), "test")
		status := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, "test", status.Version)
		assert.Len(t, status.Dependencies, 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis down degrades", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		checker := NewHealthChecker(db, pingerFunc(func(context.Context) error { return errors.New("refused") }), "")
		status := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, "refused", status.Dependencies["redis"].Message)
	})

	t.Run("database down is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

		checker := NewHealthChecker(db, nil, "")
		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body HealthStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, StatusUnhealthy, body.Status)
	})
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "")
	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusHealthy)
}
