//go:build integration

package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/tapforge/preview-pool/test/e2e/helpers"
)

const zeroUUID = "00000000-0000-0000-0000-000000000000"

// TestAdminAPIAuthEnforcement validates that the admin role gate covers
// every endpoint group.
func TestAdminAPIAuthEnforcement(t *testing.T) {
	dsn := helpers.StartPostgres(t)
	tp := helpers.BootPlatform(t, helpers.PoolPlatformConfig(t, dsn))

	// Representative paths across all endpoint groups
	paths := []string{
		"/api/v1/admin/system/info",
		"/api/v1/admin/pools",
		"/api/v1/admin/sessions",
		"/api/v1/admin/allocations",
		"/api/v1/admin/quotas",
		"/api/v1/admin/costs",
	}

	t.Run("no_credentials_returns_401", func(t *testing.T) {
		anon := helpers.NewAnonymousClient(tp.Server.URL)
		for _, path := range paths {
			status, _, err := anon.RawGet(path)
			if err != nil {
				t.Errorf("GET %s: unexpected error: %v", path, err)
				continue
			}
			if status != http.StatusUnauthorized {
				t.Errorf("GET %s: expected 401, got %d", path, status)
			}
		}
	})

	t.Run("invalid_key_returns_401", func(t *testing.T) {
		bad := helpers.NewAdminClient(tp.Server.URL, "totally-invalid-key")
		for _, path := range paths {
			status, _, err := bad.RawGet(path)
			if err != nil {
				t.Errorf("GET %s: unexpected error: %v", path, err)
				continue
			}
			if status != http.StatusUnauthorized {
				t.Errorf("GET %s: expected 401, got %d", path, status)
			}
		}
	})

	t.Run("dispatcher_token_returns_403", func(t *testing.T) {
		// Valid credential, wrong role
		svc := helpers.NewServiceClient(tp.Server.URL, helpers.ServiceToken(t))
		for _, path := range paths {
			status, _, err := svc.RawGet(path)
			if err != nil {
				t.Errorf("GET %s: unexpected error: %v", path, err)
				continue
			}
			if status != http.StatusForbidden {
				t.Errorf("GET %s: expected 403, got %d", path, status)
			}
		}
	})

	t.Run("admin_key_returns_200", func(t *testing.T) {
		adm := helpers.NewAdminClient(tp.Server.URL, helpers.AdminAPIKey)
		for _, path := range paths {
			status, _, err := adm.RawGet(path)
			if err != nil {
				t.Errorf("GET %s: unexpected error: %v", path, err)
				continue
			}
			if status != http.StatusOK {
				t.Errorf("GET %s: expected 200, got %d", path, status)
			}
		}
	})

	t.Run("docs_served_without_credentials", func(t *testing.T) {
		anon := helpers.NewAnonymousClient(tp.Server.URL)
		status, body, err := anon.RawGet("/api/v1/admin/docs/index.html")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if len(body) == 0 {
			t.Error("expected a non-empty docs page")
		}
	})
}

// TestAdminAPISurface validates each endpoint group's behavior over a real
// database.
func TestAdminAPISurface(t *testing.T) {
	dsn := helpers.StartPostgres(t)
	tp := helpers.BootPlatform(t, helpers.PoolPlatformConfig(t, dsn))
	db := helpers.NewTestDB(t, dsn)

	tp.SeedProject(t, "proj-admin", "owner-dave")
	svc := helpers.NewServiceClient(tp.Server.URL, helpers.ServiceToken(t))
	adm := helpers.NewAdminClient(tp.Server.URL, helpers.AdminAPIKey)

	var iosPoolID string

	// --- System ---

	t.Run("system_info", func(t *testing.T) {
		info, status, err := adm.SystemInfo()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if !info.Features.Pools || !info.Features.Provider {
			t.Errorf("expected pools and provider features, got %+v", info.Features)
		}
		if !info.Features.Quotas || !info.Features.Costs {
			t.Errorf("expected quotas and costs features, got %+v", info.Features)
		}
		if info.Features.Scheduler {
			t.Error("expected scheduler=false with the scheduler off")
		}
		if len(info.Jobs) != 0 {
			t.Errorf("expected no scheduled jobs, got %v", info.Jobs)
		}
	})

	// --- Pools ---

	t.Run("list_pools_has_configured_pool", func(t *testing.T) {
		list, status, err := adm.ListPools()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if list.Total != 1 {
			t.Fatalf("expected 1 pool, got %d", list.Total)
		}
		p := list.Pools[0]
		if p.Platform != "ios" || p.DeviceType != "iphone15" {
			t.Errorf("unexpected pool %s/%s", p.Platform, p.DeviceType)
		}
		if p.TargetSize != 2 || p.MinSize != 1 || p.MaxSize != 4 {
			t.Errorf("unexpected sizes %d/%d/%d", p.TargetSize, p.MinSize, p.MaxSize)
		}
		iosPoolID = p.ID
	})

	t.Run("create_pool_registers_new_device", func(t *testing.T) {
		created, status, err := adm.CreatePool(helpers.PoolCreateRequest{
			Platform: "android", DeviceType: "pixel8",
			TargetSize: 1, MinSize: 0, MaxSize: 2,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusCreated {
			t.Fatalf("expected 201, got %d", status)
		}
		if created.ID == "" {
			t.Fatal("expected an ID on the created pool")
		}

		list, _, err := adm.ListPools()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if list.Total != 2 {
			t.Errorf("expected 2 pools after create, got %d", list.Total)
		}
	})

	t.Run("create_pool_rejects_bad_bounds", func(t *testing.T) {
		_, status, err := adm.CreatePool(helpers.PoolCreateRequest{
			Platform: "android", DeviceType: "pixel9",
			TargetSize: 5, MinSize: 0, MaxSize: 2,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("resize_pool_updates_bounds", func(t *testing.T) {
		status, err := adm.RawPut("/api/v1/admin/pools/"+iosPoolID, map[string]int{
			"target_size": 3, "min_size": 1, "max_size": 5,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}

		p, _, err := adm.GetPool(iosPoolID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.TargetSize != 3 || p.MaxSize != 5 {
			t.Errorf("expected resized bounds 3/5, got %d/%d", p.TargetSize, p.MaxSize)
		}
	})

	t.Run("pool_not_found", func(t *testing.T) {
		_, status, err := adm.GetPool(zeroUUID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})

	// --- Sessions ---

	var sessionID string

	t.Run("sessions_reflect_dispatch_activity", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-admin", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sessionID = helpers.AssertAllocated(t, resp, status)

		list, status, err := adm.ListSessions("status=allocated&pool_id=" + iosPoolID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if list.Total != 1 {
			t.Errorf("expected 1 allocated session, got %d", list.Total)
		}
	})

	t.Run("session_not_found", func(t *testing.T) {
		_, status, err := adm.GetSession(zeroUUID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})

	t.Run("reload_swaps_session_artifact", func(t *testing.T) {
		status, err := adm.ReloadSession(sessionID, "https://builds.example.com/app-42.zip")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Errorf("expected 200, got %d", status)
		}
	})

	t.Run("reload_requires_artifact_url", func(t *testing.T) {
		status, err := adm.ReloadSession(sessionID, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", status)
		}
	})

	t.Run("terminate_marks_instance", func(t *testing.T) {
		resp, status, err := svc.Release(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertReleased(t, resp, status)

		code, err := adm.TerminateSession(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", code)
		}
		helpers.AssertSessionStatus(t, adm, sessionID, "terminating")
	})

	t.Run("reload_conflicts_with_teardown", func(t *testing.T) {
		status, err := adm.ReloadSession(sessionID, "https://builds.example.com/app-43.zip")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusConflict {
			t.Errorf("expected 409, got %d", status)
		}
	})

	// --- Quotas ---

	t.Run("quota_put_get_round_trip", func(t *testing.T) {
		used := int64(30)
		q, status, err := adm.PutQuota("owner-erin", helpers.QuotaPutRequest{
			LimitMinutes: 120, UsedMinutes: &used,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if q.LimitMinutes != 120 || q.UsedMinutes != 30 {
			t.Errorf("unexpected quota %d/%d", q.UsedMinutes, q.LimitMinutes)
		}

		got, status, err := adm.GetQuota("owner-erin")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if got.LimitMinutes != 120 || got.UsedMinutes != 30 {
			t.Errorf("round trip lost data: %d/%d", got.UsedMinutes, got.LimitMinutes)
		}
	})

	t.Run("quota_not_found", func(t *testing.T) {
		_, status, err := adm.GetQuota("owner-nobody")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != http.StatusNotFound {
			t.Errorf("expected 404, got %d", status)
		}
	})

	// --- Costs ---

	t.Run("cost_records_after_sweep", func(t *testing.T) {
		// Seed two minutes of runtime closed two days ago, then bill that
		// window the way the scheduled sweep would.
		past := time.Now().UTC().Add(-48 * time.Hour)
		seeded := db.InsertClosedAllocation(t, iosPoolID, "owner-dave", 2*time.Minute, past)

		ctx, cancel := helpers.TestContext(30 * time.Second)
		defer cancel()
		billed, err := tp.Platform.Accountant().SweepWindow(ctx, past)
		if err != nil {
			t.Fatalf("sweeping window: %v", err)
		}
		if billed != 1 {
			t.Fatalf("expected 1 billed instance, got %d", billed)
		}

		list, status, err := adm.ListCosts("session_id=" + seeded)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if list.Total != 1 {
			t.Fatalf("expected 1 cost record, got %d", list.Total)
		}

		rec := list.Records[0]
		if rec.RuntimeSeconds != 120 || rec.RuntimeMinutes != 2 {
			t.Errorf("unexpected runtime %ds/%dm", rec.RuntimeSeconds, rec.RuntimeMinutes)
		}
		if diff := rec.CostUSD - 0.10; diff < -1e-9 || diff > 1e-9 {
			t.Errorf("expected cost 0.10 at 0.05/min, got %f", rec.CostUSD)
		}
	})

	t.Run("sweep_is_idempotent", func(t *testing.T) {
		past := time.Now().UTC().Add(-48 * time.Hour)

		ctx, cancel := helpers.TestContext(30 * time.Second)
		defer cancel()
		billed, err := tp.Platform.Accountant().SweepWindow(ctx, past)
		if err != nil {
			t.Fatalf("sweeping window again: %v", err)
		}
		if billed != 0 {
			t.Errorf("expected an already-billed window to bill nothing, got %d", billed)
		}
	})
}
