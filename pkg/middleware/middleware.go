// Package middleware provides the HTTP middleware applied to the dispatcher
// and admin routes: authentication, request logging, per-credential rate
// limiting, and Prometheus instrumentation.
package middleware

import (
	"encoding/json"
	"net/http"
)

// Middleware wraps a handler with additional logic.
type Middleware func(http.Handler) http.Handler

// Chain wraps a handler with middleware, applied in reverse order so the
// first middleware listed runs first.
func Chain(handler http.Handler, mws ...Middleware) http.Handler {
	wrapped := handler
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// writeError answers a request with the dispatcher wire error shape.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
