//go:build integration

package e2e

import (
	"testing"
	"time"

	"github.com/tapforge/preview-pool/test/e2e/helpers"
)

// TestPoolLifecycle walks one session through its full life against a real
// database: cold provisioning, release, reuse, hibernation, and wake.
func TestPoolLifecycle(t *testing.T) {
	dsn := helpers.StartPostgres(t)
	tp := helpers.BootPlatform(t, helpers.PoolPlatformConfig(t, dsn))
	db := helpers.NewTestDB(t, dsn)

	tp.SeedProject(t, "proj-checkout", "owner-alice")
	svc := helpers.NewServiceClient(tp.Server.URL, helpers.ServiceToken(t))
	adm := helpers.NewAdminClient(tp.Server.URL, helpers.AdminAPIKey)

	var sessionID string

	t.Run("allocate_provisions_on_empty_pool", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-checkout", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sessionID = helpers.AssertAllocated(t, resp, status)
	})

	t.Run("admin_sees_allocated_instance", func(t *testing.T) {
		helpers.AssertSessionStatus(t, adm, sessionID, "allocated")

		list, status, err := adm.ListSessions("status=allocated")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if list.Total != 1 {
			t.Errorf("expected 1 allocated instance, got %d", list.Total)
		}
		if list.Sessions[0].LastConsumerID != "owner-alice" {
			t.Errorf("expected consumer owner-alice, got %s", list.Sessions[0].LastConsumerID)
		}
	})

	t.Run("release_returns_instance_to_ready", func(t *testing.T) {
		resp, status, err := svc.Release(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertReleased(t, resp, status)
		helpers.AssertSessionStatus(t, adm, sessionID, "ready")

		if n := db.CountOpenAllocations(t); n != 0 {
			t.Errorf("expected 0 open allocations after release, got %d", n)
		}
	})

	t.Run("reallocate_reuses_ready_instance", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-checkout", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := helpers.AssertAllocated(t, resp, status)
		if got != sessionID {
			t.Errorf("expected the ready instance %s to be reused, got %s", sessionID, got)
		}
	})

	t.Run("hibernate_parks_idle_session", func(t *testing.T) {
		db.BackdateActivity(t, sessionID, time.Now().UTC().Add(-10*time.Minute))

		ctx, cancel := helpers.TestContext(30 * time.Second)
		defer cancel()
		count, err := tp.Platform.Scaler().HibernateIdle(ctx)
		if err != nil {
			t.Fatalf("hibernate sweep: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 hibernated instance, got %d", count)
		}

		helpers.AssertSessionStatus(t, adm, sessionID, "hibernated")
		if n := db.CountOpenAllocations(t); n != 0 {
			t.Errorf("expected hibernation to close the allocation, got %d open", n)
		}
	})

	t.Run("wake_returns_own_hibernated_instance", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-checkout", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := helpers.AssertAllocated(t, resp, status)
		if got != sessionID {
			t.Errorf("expected the hibernated instance %s to wake, got %s", sessionID, got)
		}
		helpers.AssertSessionStatus(t, adm, sessionID, "allocated")
	})

	t.Run("allocation_history_records_every_claim", func(t *testing.T) {
		resp, status, err := svc.Release(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertReleased(t, resp, status)

		list, status, err := adm.ListAllocations("consumer_id=owner-alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if list.Total != 3 {
			t.Fatalf("expected 3 allocations, got %d", list.Total)
		}

		var newCount, reusedCount, hibernated int
		for _, a := range list.Allocations {
			switch a.Type {
			case "new":
				newCount++
			case "reused":
				reusedCount++
			}
			if a.ReleaseReason == "hibernate" {
				hibernated++
			}
			if a.ReleasedAt == nil {
				t.Errorf("allocation %s still open", a.ID)
			}
		}
		if newCount != 1 || reusedCount != 2 {
			t.Errorf("expected 1 new and 2 reused allocations, got %d and %d", newCount, reusedCount)
		}
		if hibernated != 1 {
			t.Errorf("expected 1 hibernate close, got %d", hibernated)
		}
	})
}

// TestQuotaEnforcement verifies the monthly minute budget end to end: usage
// recorded on release, rejection once the budget is spent, and the unmetered
// escape hatch.
func TestQuotaEnforcement(t *testing.T) {
	dsn := helpers.StartPostgres(t)
	tp := helpers.BootPlatform(t, helpers.PoolPlatformConfig(t, dsn))
	db := helpers.NewTestDB(t, dsn)

	tp.SeedProject(t, "proj-billing", "owner-bob")
	svc := helpers.NewServiceClient(tp.Server.URL, helpers.ServiceToken(t))
	adm := helpers.NewAdminClient(tp.Server.URL, helpers.AdminAPIKey)

	t.Run("usage_recorded_on_release", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-billing", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sessionID := helpers.AssertAllocated(t, resp, status)

		// 90 seconds of runtime bills 2 minutes, rounded up.
		db.BackdateActivity(t, sessionID, time.Now().UTC().Add(-90*time.Second))

		resp, status, err = svc.Release(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertReleased(t, resp, status)

		q, status, err := adm.GetQuota("owner-bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if q.UsedMinutes != 2 {
			t.Errorf("expected 2 used minutes, got %d", q.UsedMinutes)
		}
		if q.LimitMinutes != 600 {
			t.Errorf("expected the default 600 minute limit, got %d", q.LimitMinutes)
		}
	})

	t.Run("tightened_budget_rejects_allocation", func(t *testing.T) {
		q, status, err := adm.PutQuota("owner-bob", helpers.QuotaPutRequest{LimitMinutes: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if q.UsedMinutes != 2 {
			t.Errorf("expected recorded usage preserved, got %d", q.UsedMinutes)
		}

		resp, status, err := svc.Allocate("proj-billing", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertQuotaExceeded(t, resp, status)
	})

	t.Run("zero_limit_is_unmetered", func(t *testing.T) {
		if _, status, err := adm.PutQuota("owner-bob", helpers.QuotaPutRequest{LimitMinutes: 0}); err != nil || status != 200 {
			t.Fatalf("lifting quota: status %d, err %v", status, err)
		}

		resp, status, err := svc.Allocate("proj-billing", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sessionID := helpers.AssertAllocated(t, resp, status)

		resp, status, err = svc.Release(sessionID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertReleased(t, resp, status)
	})
}

// TestDispatchRejections verifies the dispatcher's error envelope for each
// rejection class.
func TestDispatchRejections(t *testing.T) {
	dsn := helpers.StartPostgres(t)
	tp := helpers.BootPlatform(t, helpers.PoolPlatformConfig(t, dsn))

	tp.SeedProject(t, "proj-known", "owner-carol")
	svc := helpers.NewServiceClient(tp.Server.URL, helpers.ServiceToken(t))

	t.Run("missing_action", func(t *testing.T) {
		resp, status, err := svc.Dispatch(helpers.DispatchRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 400, "validation_error")
	})

	t.Run("unknown_action", func(t *testing.T) {
		resp, status, err := svc.Dispatch(helpers.DispatchRequest{Action: "destroy"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 400, "validation_error")
	})

	t.Run("allocate_without_project", func(t *testing.T) {
		resp, status, err := svc.Dispatch(helpers.DispatchRequest{
			Action: "allocate", Platform: "ios", DeviceType: "iphone15",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 400, "validation_error")
	})

	t.Run("allocate_unknown_project", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-ghost", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 404, "not_found")
	})

	t.Run("allocate_unknown_device_type", func(t *testing.T) {
		resp, status, err := svc.Allocate("proj-known", "ios", "iphone4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 404, "not_found")
	})

	t.Run("release_without_session", func(t *testing.T) {
		resp, status, err := svc.Dispatch(helpers.DispatchRequest{Action: "release"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 400, "validation_error")
	})

	t.Run("release_unknown_session", func(t *testing.T) {
		resp, status, err := svc.Release("00000000-0000-0000-0000-000000000000")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 404, "not_found")
	})

	t.Run("metrics_without_pool", func(t *testing.T) {
		resp, status, err := svc.Dispatch(helpers.DispatchRequest{Action: "metrics"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 400, "validation_error")
	})

	t.Run("anonymous_caller_rejected", func(t *testing.T) {
		anon := helpers.NewAnonymousClient(tp.Server.URL)
		resp, status, err := anon.Allocate("proj-known", "ios", "iphone15")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		helpers.AssertDispatchError(t, resp, status, 401, "unauthorized")
	})
}
