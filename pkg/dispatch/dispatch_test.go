package dispatch

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapforge/preview-pool/pkg/allocator"
	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/monitor"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/project"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/scaler"
)

const (
	testProject  = "proj-1"
	testOwner    = "user-1"
	testPlatform = "ios"
	testDevice   = "iphone15"
)

type testStack struct {
	store    *pool.MemoryStore
	projects *project.MemoryStore
	adapter  *provider.NoopAdapter
	d        *Dispatcher
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	return newTestStackCfg(t, allocator.Config{})
}

func newTestStackCfg(t *testing.T, acfg allocator.Config) *testStack {
	t.Helper()
	store := pool.NewMemoryStore()
	projects := project.NewMemoryStore()
	adapter := provider.NewNoop("https://preview.example.com")

	require.NoError(t, projects.Upsert(context.Background(), &project.Project{
		ID:       testProject,
		OwnerID:  testOwner,
		Name:     "todo-app",
		Platform: testPlatform,
	}))

	deps := Deps{
		Allocator: allocator.New(store, adapter, acfg, slog.Default()),
		Monitor:   monitor.New(store, adapter, monitor.Config{}, slog.Default()),
		Scaler:    scaler.New(store, adapter, scaler.Config{}, slog.Default()),
		Store:     store,
		Projects:  project.NewResolver(projects),
	}
	return &testStack{
		store:    store,
		projects: projects,
		adapter:  adapter,
		d:        New(deps, Config{}, slog.Default()),
	}
}

func (s *testStack) ensurePool(t *testing.T, target int) *pool.Pool {
	t.Helper()
	p, err := s.store.EnsurePool(context.Background(), &pool.Pool{
		Platform:   testPlatform,
		DeviceType: testDevice,
		TargetSize: target,
		MinSize:    0,
		MaxSize:    10,
	})
	require.NoError(t, err)
	return p
}

func TestDispatch_UnknownAction(t *testing.T) {
	s := newTestStack(t)

	resp := s.d.Dispatch(context.Background(), &Request{Action: "reboot"})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindValidation), resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "unknown action")
}

func TestDispatch_MissingAction(t *testing.T) {
	s := newTestStack(t)

	resp := s.d.Dispatch(context.Background(), &Request{})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindValidation), resp.Error.Code)
}

func TestDispatch_AllocateOnEmptyPoolProvisions(t *testing.T) {
	s := newTestStack(t)
	s.ensurePool(t, 1)

	resp := s.d.Dispatch(context.Background(), &Request{
		Action:     ActionAllocate,
		ProjectID:  testProject,
		Platform:   testPlatform,
		DeviceType: testDevice,
	})

	require.Nil(t, resp.Error)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.PublicKey)
	assert.Contains(t, resp.SessionURL, "https://preview.example.com/s/")

	inst, err := s.store.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pool.StatusAllocated, inst.Status)
}

func TestDispatch_AllocateDefaultsPlatformFromProject(t *testing.T) {
	s := newTestStack(t)
	s.ensurePool(t, 1)

	resp := s.d.Dispatch(context.Background(), &Request{
		Action:     ActionAllocate,
		ProjectID:  testProject,
		DeviceType: testDevice,
	})

	require.Nil(t, resp.Error)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SessionID)
}

func TestDispatch_AllocateUnknownProject(t *testing.T) {
	s := newTestStack(t)
	s.ensurePool(t, 1)

	resp := s.d.Dispatch(context.Background(), &Request{
		Action:     ActionAllocate,
		ProjectID:  "proj-unknown",
		Platform:   testPlatform,
		DeviceType: testDevice,
	})

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindNotFound), resp.Error.Code)
}

func TestDispatch_AllocateUnknownPlatform(t *testing.T) {
	s := newTestStack(t)

	resp := s.d.Dispatch(context.Background(), &Request{
		Action:     ActionAllocate,
		ProjectID:  testProject,
		Platform:   "windows",
		DeviceType: "surface",
	})

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindNotFound), resp.Error.Code)
}

func TestDispatch_ReleaseRoundTrip(t *testing.T) {
	s := newTestStack(t)
	s.ensurePool(t, 1)
	ctx := context.Background()

	allocated := s.d.Dispatch(ctx, &Request{
		Action:     ActionAllocate,
		ProjectID:  testProject,
		Platform:   testPlatform,
		DeviceType: testDevice,
	})
	require.True(t, allocated.Success)

	released := s.d.Dispatch(ctx, &Request{Action: ActionRelease, SessionID: allocated.SessionID})
	require.Nil(t, released.Error)
	assert.True(t, released.Success)
	assert.Equal(t, allocated.SessionID, released.SessionID)

	inst, err := s.store.GetSession(ctx, allocated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pool.StatusReady, inst.Status)
}

func TestDispatch_ReleaseUnknownSession(t *testing.T) {
	s := newTestStack(t)

	resp := s.d.Dispatch(context.Background(), &Request{Action: ActionRelease, SessionID: "missing"})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindNotFound), resp.Error.Code)
}

func TestDispatch_HealthCheckReturnsProbeItems(t *testing.T) {
	s := newTestStack(t)
	p := s.ensurePool(t, 1)
	ctx := context.Background()

	sess, err := s.adapter.CreateSession(ctx, testPlatform, testDevice)
	require.NoError(t, err)
	inst := &pool.SessionInstance{
		PoolID:            p.ID,
		ProviderSessionID: sess.ID,
		PublicHandle:      sess.PublicHandle,
		Status:            pool.StatusReady,
	}
	require.NoError(t, s.store.CreateSession(ctx, inst))

	resp := s.d.Dispatch(ctx, &Request{Action: ActionHealthCheck, PoolID: p.ID})
	require.True(t, resp.Success)

	items, ok := resp.Metrics.([]HealthItem)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, inst.ID, items[0].SessionID)
	assert.Equal(t, pool.HealthHealthy, items[0].HealthStatus)
}

func TestDispatch_ScaleProvisionsTowardTarget(t *testing.T) {
	s := newTestStack(t)
	p := s.ensurePool(t, 2)

	resp := s.d.Dispatch(context.Background(), &Request{Action: ActionScale, PoolID: p.ID})
	require.True(t, resp.Success)

	items, ok := resp.Metrics.([]ScaleItem)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, p.ID, items[0].PoolID)
	assert.Equal(t, pool.ScaleUp, items[0].Action)
	assert.NotEmpty(t, items[0].Provisioned)
	assert.Empty(t, items[0].Error)
}

func TestDispatch_ScaleUnknownPool(t *testing.T) {
	s := newTestStack(t)

	resp := s.d.Dispatch(context.Background(), &Request{Action: ActionScale, PoolID: "missing"})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindNotFound), resp.Error.Code)
}

func TestDispatch_MetricsRequiresPoolID(t *testing.T) {
	s := newTestStack(t)

	resp := s.d.Dispatch(context.Background(), &Request{Action: ActionMetrics})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindValidation), resp.Error.Code)
}

func TestDispatch_MetricsSnapshot(t *testing.T) {
	s := newTestStack(t)
	p := s.ensurePool(t, 2)
	ctx := context.Background()

	allocated := s.d.Dispatch(ctx, &Request{
		Action:     ActionAllocate,
		ProjectID:  testProject,
		Platform:   testPlatform,
		DeviceType: testDevice,
	})
	require.True(t, allocated.Success)

	resp := s.d.Dispatch(ctx, &Request{Action: ActionMetrics, PoolID: p.ID})
	require.True(t, resp.Success)

	m, ok := resp.Metrics.(*pool.Metrics)
	require.True(t, ok)
	assert.Equal(t, p.ID, m.PoolID)
	assert.Equal(t, 1, m.AllocatedCount)
	assert.Equal(t, 1, m.RecentDemand)
	assert.Equal(t, 2, m.TargetSize)
}

// rejectingGate refuses every consumer.
type rejectingGate struct{}

func (rejectingGate) Check(context.Context, string) error {
	return fault.QuotaExceeded(500, 500, 36*time.Hour)
}

func TestDispatch_QuotaExceededCarriesRetryAfter(t *testing.T) {
	s := newTestStackCfg(t, allocator.Config{Quota: rejectingGate{}})
	s.ensurePool(t, 1)

	resp := s.d.Dispatch(context.Background(), &Request{
		Action:     ActionAllocate,
		ProjectID:  testProject,
		Platform:   testPlatform,
		DeviceType: testDevice,
	})

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(fault.KindQuotaExceeded), resp.Error.Code)
	assert.Equal(t, int64(36*3600), resp.Error.RetryAfterSeconds)
}
