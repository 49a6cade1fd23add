package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"/v1/pool", "/v1/pool"},
		{"/healthz", "/healthz"},
		{"/api/v1/admin/", "/api/v1/admin/"},
		{"/api/v1/admin/pools", "/api/v1/admin/pools"},
		{"/api/v1/admin/pools/6f1c", "/api/v1/admin/pools/:id"},
		{"/api/v1/admin/sessions/6f1c/reload", "/api/v1/admin/sessions/:id/reload"},
		{"/wp-admin/setup.php/extra", "/wp-admin/setup.php"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalPath(tc.in), "path %q", tc.in)
	}
}

func TestInstrumentPassesThrough(t *testing.T) {
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}),
		Instrument(),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/pool", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestInstrumentSkipsMetricsEndpoint(t *testing.T) {
	called := false
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}),
		Instrument(),
	)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, called)
}
