package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tapforge/preview-pool/pkg/metrics"
)

// Instrument records Prometheus metrics for each request. The metrics
// endpoint itself is not instrumented.
func Instrument() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			metrics.IncInFlight()
			defer metrics.DecInFlight()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			metrics.RecordHTTPRequest(r.Method, canonicalPath(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// canonicalPath collapses request paths to route shapes so per-ID admin
// paths and scanner noise do not explode label cardinality.
func canonicalPath(raw string) string {
	const adminPrefix = "/api/v1/admin/"
	if rest, ok := strings.CutPrefix(raw, adminPrefix); ok {
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		switch {
		case len(parts) == 0 || parts[0] == "":
			return adminPrefix
		case len(parts) == 1:
			return adminPrefix + parts[0]
		case len(parts) == 2:
			return adminPrefix + parts[0] + "/:id"
		default:
			return adminPrefix + parts[0] + "/:id/" + parts[2]
		}
	}

	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/" + parts[1]
}
