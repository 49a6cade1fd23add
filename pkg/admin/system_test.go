package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSystemInfo(t *testing.T) {
	t.Run("fully wired", func(t *testing.T) {
		env := newTestEnv(t)

		var resp systemInfoResponse
		w := env.do(t, http.MethodGet, "/api/v1/admin/system/info", nil, &resp)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "preview-pool", resp.Name)
		assert.Equal(t, "test", resp.Version)
		assert.True(t, resp.Features.Pools)
		assert.True(t, resp.Features.Provider)
		assert.True(t, resp.Features.Quotas)
		assert.True(t, resp.Features.Costs)
		assert.True(t, resp.Features.Scheduler)
		assert.Equal(t, []string{"health_check", "scale"}, resp.Jobs)
	})

	t.Run("bare deps", func(t *testing.T) {
		h := NewHandler(Deps{Version: "dev"}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/system/info", http.NoBody)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp systemInfoResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.False(t, resp.Features.Pools)
		assert.False(t, resp.Features.Scheduler)
		assert.NotNil(t, resp.Jobs, "jobs must serialize as an empty array, not null")
		assert.Empty(t, resp.Jobs)
	})
}
