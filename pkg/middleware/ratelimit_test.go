package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapforge/preview-pool/pkg/auth"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		rl.Handler,
	)
}

func asCaller(req *http.Request, id string) *http.Request {
	return req.WithContext(auth.WithCaller(req.Context(), &auth.Caller{ID: id, Type: auth.TypeAPIKey}))
}

func TestRateLimiterBlocksBurstOverflow(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := limitedHandler(rl)

	req := asCaller(httptest.NewRequest(http.MethodPost, "/v1/pool", nil), "ops")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	wireErr := decodeWireError(t, rec)
	assert.Equal(t, "rate_limited", wireErr["code"])
}

func TestRateLimiterKeysPerCaller(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := limitedHandler(rl)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asCaller(httptest.NewRequest(http.MethodPost, "/v1/pool", nil), "first"))
	require.Equal(t, http.StatusOK, rec.Code)

	// A different caller has its own bucket.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asCaller(httptest.NewRequest(http.MethodPost, "/v1/pool", nil), "second"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asCaller(httptest.NewRequest(http.MethodPost, "/v1/pool", nil), "first"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterFallsBackToRemoteAddr(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := limitedHandler(rl)

	req := httptest.NewRequest(http.MethodPost, "/v1/pool", nil)
	req.RemoteAddr = "10.0.0.7:4411"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCleanupKeepsSmallMaps(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.getLimiter("a")
	rl.getLimiter("b")

	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Len(t, rl.limiters, 2)
}
