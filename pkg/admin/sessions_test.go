package admin

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapforge/preview-pool/pkg/pool"
)

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	p := env.ensurePool(t, "ios", "iphone15", 2, 5)
	other := env.ensurePool(t, "android", "pixel8", 1, 3)
	env.createSession(t, p.ID, pool.StatusReady)
	env.createSession(t, p.ID, pool.StatusAllocated)
	env.createSession(t, other.ID, pool.StatusReady)

	t.Run("all sessions", func(t *testing.T) {
		var resp sessionListResponse
		w := env.do(t, http.MethodGet, "/api/v1/admin/sessions", nil, &resp)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 3, resp.Total)
	})

	t.Run("filtered by pool", func(t *testing.T) {
		var resp sessionListResponse
		w := env.do(t, http.MethodGet, "/api/v1/admin/sessions?pool_id="+p.ID, nil, &resp)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, resp.Total)
		for _, s := range resp.Sessions {
			assert.Equal(t, p.ID, s.PoolID)
		}
	})

	t.Run("filtered by status", func(t *testing.T) {
		var resp sessionListResponse
		w := env.do(t, http.MethodGet, "/api/v1/admin/sessions?status=allocated", nil, &resp)

		assert.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, resp.Total)
		assert.Equal(t, "allocated", resp.Sessions[0].Status)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/admin/sessions?status=melted", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t)
	p := env.ensurePool(t, "ios", "iphone15", 2, 5)
	inst := env.createSession(t, p.ID, pool.StatusReady)

	t.Run("found", func(t *testing.T) {
		var resp sessionResponse
		w := env.do(t, http.MethodGet, "/api/v1/admin/sessions/"+inst.ID, nil, &resp)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, inst.ID, resp.ID)
		assert.Equal(t, "ready", resp.Status)
	})

	t.Run("not found", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/admin/sessions/nope", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestReloadSession(t *testing.T) {
	env := newTestEnv(t)
	p := env.ensurePool(t, "ios", "iphone15", 2, 5)
	inst := env.createSession(t, p.ID, pool.StatusAllocated)

	t.Run("reloads", func(t *testing.T) {
		var resp statusResponse
		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/"+inst.ID+"/reload",
			sessionReloadRequest{ArtifactURL: "https://builds.example.com/app-42.zip"}, &resp)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "reloaded", resp.Status)
	})

	t.Run("missing artifact url", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/"+inst.ID+"/reload",
			sessionReloadRequest{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "artifact_url is required", decodeError(t, w))
	})

	t.Run("unknown session", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/nope/reload",
			sessionReloadRequest{ArtifactURL: "https://builds.example.com/app.zip"}, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("terminating session conflicts", func(t *testing.T) {
		dying := env.createSession(t, p.ID, pool.StatusTerminating)
		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/"+dying.ID+"/reload",
			sessionReloadRequest{ArtifactURL: "https://builds.example.com/app.zip"}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("provider failure maps to bad gateway", func(t *testing.T) {
		broken := newTestEnv(t)
		brokenPool := broken.ensurePool(t, "ios", "iphone15", 1, 2)
		brokenInst := broken.createSession(t, brokenPool.ID, pool.StatusAllocated)
		broken.handler.deps.Provider = &failingAdapter{reloadErr: errProviderDown}

		w := broken.do(t, http.MethodPost, "/api/v1/admin/sessions/"+brokenInst.ID+"/reload",
			sessionReloadRequest{ArtifactURL: "https://builds.example.com/app.zip"}, nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestTerminateSession(t *testing.T) {
	env := newTestEnv(t)
	p := env.ensurePool(t, "ios", "iphone15", 2, 5)

	t.Run("marks terminating", func(t *testing.T) {
		inst := env.createSession(t, p.ID, pool.StatusReady)

		var resp statusResponse
		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/"+inst.ID+"/terminate", nil, &resp)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "terminating", resp.Status)

		stored, err := env.store.GetSession(context.Background(), inst.ID)
		require.NoError(t, err)
		assert.Equal(t, pool.StatusTerminating, stored.Status)
	})

	t.Run("not found", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/nope/terminate", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("already terminated conflicts", func(t *testing.T) {
		inst := env.createSession(t, p.ID, pool.StatusTerminating)
		require.NoError(t, env.store.MarkTerminated(context.Background(), inst.ID))

		w := env.do(t, http.MethodPost, "/api/v1/admin/sessions/"+inst.ID+"/terminate", nil, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
