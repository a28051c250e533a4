// Package httputil provides HTTP helpers for JSON responses, mapping domain
// errors to status codes and parsing request input.
//
// Handlers report failures with WriteAppError, which translates the error
// taxonomy of pkg/auth into status codes:
//
//	user, err := h.users.GetByID(ctx, id)
//	if err != nil {
//		httputil.WriteAppError(w, r, err)
//		return
//	}
//	httputil.WriteJSON(w, http.StatusOK, user)
//
// Unrecognised errors become a generic 500 and are logged with the request
// logger; their text never reaches the client.
package httputil
