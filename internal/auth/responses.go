// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Every error body has the shape
// {"error": "<message>"}; messages never carry internal causes.
package auth

import (
	"encoding/json"
	"net/http"
)

// writeError writes a JSON {"error": message} body with status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{message})
}

// writeFailure logs f with its internal cause and writes the client-facing response.
// Server-side failures log at error, client-side ones at warn.
func writeFailure(w http.ResponseWriter, r *http.Request, f *Failure) {
	attrs := []any{"reason", f.Reason, "status", f.Status}
	if f.Err != nil {
		attrs = append(attrs, "error", f.Err)
	}
	if f.Status >= http.StatusInternalServerError {
		logError(r, "oauth request failed", attrs...)
	} else {
		logWarn(r, "oauth request rejected", attrs...)
	}
	writeError(w, f.Status, f.Message)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// MethodNotAllowed returns a 405 JSON response.
func MethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
