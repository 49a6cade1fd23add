package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tapforge/preview-pool/pkg/costing"
	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/quota"
)

// failingAdapter scripts provider failures for the reload path.
type failingAdapter struct {
	provider.Adapter
	reloadErr error
}

func (a *failingAdapter) ReloadSession(_ context.Context, _, _ string) error {
	return a.reloadErr
}

// testEnv bundles the in-memory stores behind a fully wired handler.
type testEnv struct {
	store   *pool.MemoryStore
	adapter provider.Adapter
	quotas  *quota.MemoryStore
	costs   *costing.MemoryStore
	handler *Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   pool.NewMemoryStore(),
		adapter: provider.NewNoop(""),
		quotas:  quota.NewMemoryStore(),
		costs:   costing.NewMemoryStore(),
	}
	env.handler = NewHandler(Deps{
		Store:    env.store,
		Provider: env.adapter,
		Quotas:   env.quotas,
		Costs:    env.costs,
		Version:  "test",
		Jobs:     []string{"health_check", "scale"},
	}, nil)
	return env
}

// do runs one request through the handler and decodes the JSON response
// into out when out is non-nil.
func (env *testEnv) do(t *testing.T, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if out != nil && w.Body.Len() > 0 {
		require.NoError(t, json.NewDecoder(w.Body).Decode(out),
			"decoding %s %s response", method, path)
	}
	return w
}

func (env *testEnv) ensurePool(t *testing.T, platform, deviceType string, target, maxSize int) *pool.Pool {
	t.Helper()
	p, err := env.store.EnsurePool(context.Background(), &pool.Pool{
		Platform:   platform,
		DeviceType: deviceType,
		TargetSize: target,
		MinSize:    0,
		MaxSize:    maxSize,
	})
	require.NoError(t, err)
	return p
}

func (env *testEnv) createSession(t *testing.T, poolID string, status pool.Status) *pool.SessionInstance {
	t.Helper()
	inst := &pool.SessionInstance{
		PoolID:            poolID,
		ProviderSessionID: "prov-" + string(status),
		PublicHandle:      "handle-" + string(status),
		Status:            status,
	}
	require.NoError(t, env.store.CreateSession(context.Background(), inst))
	return inst
}

var errProviderDown = fault.Providerf("reload", nil, "provider unreachable")

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Error
}
