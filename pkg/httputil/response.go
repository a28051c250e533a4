package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps an error from the auth taxonomy to an HTTP status code.
// Order matters: ErrSessionExpired is both Unauthenticated and Expired and
// must report 401.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrSystemRoleProtected), errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrTenantSuspended):
		return http.StatusLocked
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrAlreadyUsed), errors.Is(err, auth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auth.ErrExpired):
		return http.StatusGone
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes err using StatusFor. Internal errors are logged and
// replaced with a generic message.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	message := err.Error()

	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		message = verr.Error()
	}

	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithFields(map[string]interface{}{"method": r.Method, "path": r.URL.Path}).
			Error("request failed")
		message = "internal server error"
	}
	WriteErrorMessage(w, status, message)
}
