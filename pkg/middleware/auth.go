package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tapforge/preview-pool/pkg/auth"
)

// Credential headers accepted alongside Authorization: Bearer.
const (
	HeaderAPIKey       = "X-API-Key"
	HeaderServiceToken = "X-Service-Token"
)

// Authenticate verifies request credentials and attaches the resulting
// caller to the request context. Requests without a verifiable credential
// are answered 401.
func Authenticate(authn auth.Authenticator, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authn.Authenticate(r.Context(), credentialFrom(r))
			if err != nil {
				logger.Debug("middleware: authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

// RequireRole rejects authenticated callers that lack the given role.
func RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := auth.CallerFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
				return
			}
			if !caller.HasRole(role) {
				writeError(w, http.StatusForbidden, "forbidden", "caller lacks role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credentialFrom pulls the credential from Authorization: Bearer, X-API-Key,
// or X-Service-Token, in that order.
func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	return r.Header.Get(HeaderServiceToken)
}
