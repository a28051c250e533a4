package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthenticated", auth.ErrUnauthenticated, http.StatusUnauthorized},
		{"session expired", auth.ErrSessionExpired, http.StatusUnauthorized},
		{"unauthorized", auth.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden},
		{"not found wrapped", fmt.Errorf("failed to get team: %w", auth.ErrNotFound), http.StatusNotFound},
		{"conflict", auth.ErrConflict, http.StatusConflict},
		{"expired token", auth.ErrExpired, http.StatusGone},
		{"already used", auth.ErrAlreadyUsed, http.StatusConflict},
		{"validation", auth.NewValidationError("email", "invalid"), http.StatusBadRequest},
		{"system role", auth.ErrSystemRoleProtected, http.StatusForbidden},
		{"suspended", auth.ErrTenantSuspended, http.StatusLocked},
		{"other", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteAppError(t *testing.T) {
	t.Run("domain error keeps message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteAppError(rec, httptest.NewRequest(http.MethodGet, "/", nil), auth.NewValidationError("slug", "invalid slug"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "slug: invalid slug", body.Error)
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteAppError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
		assert.Contains(t, rec.Body.String(), "internal server error")
	})
}

func TestParseJSON(t *testing.T) {
	var dest struct {
		Name string `json:"name"`
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"acme"}`))
	require.NoError(t, ParseJSON(rec, req, &dest))
	assert.Equal(t, "acme", dest.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err := ParseJSON(rec, req, &dest)
	assert.ErrorIs(t, err, auth.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	assert.False(t, ParseJSONOrError(rec, req, &dest))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.3")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&bad=x", nil)
	v, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = ParseQueryInt(req, "offset", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.ErrorIs(t, err, auth.ErrValidation)
}
