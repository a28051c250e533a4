package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/warden/pkg/auth"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// ParseJSON decodes JSON from the request body into the destination. Decode
// failures are reported as validation errors.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return auth.NewValidationError("body", "request body is empty")
		}
		return auth.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(w, r, dest); err != nil {
		WriteAppError(w, r, err)
		return false
	}
	return true
}

// PathVar returns a path variable or "".
func PathVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, auth.NewValidationError(key, "must be an integer")
	}
	return val, nil
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
