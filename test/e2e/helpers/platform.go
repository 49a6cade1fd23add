//go:build integration

package helpers

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tapforge/preview-pool/internal/server"
	"github.com/tapforge/preview-pool/pkg/auth"
	"github.com/tapforge/preview-pool/pkg/platform"
	"github.com/tapforge/preview-pool/pkg/project"
)

// Credentials used across the e2e suite.
const (
	AdminAPIKey   = "e2e-admin-key-secret-value"
	ServiceSecret = "e2e-shared-service-secret"
	ServiceID     = "e2e-web-app"
)

// TestPlatform wraps a running platform and its HTTP surface.
type TestPlatform struct {
	Platform *platform.Platform
	Server   *httptest.Server
}

// PoolPlatformConfig returns a configuration over the given database with one
// warm iOS pool, both credential shapes, quotas on, and the scheduler off so
// tests drive every sweep explicitly.
func PoolPlatformConfig(t *testing.T, dsn string) *platform.Config {
	t.Helper()

	cfg, err := platform.ParseConfig([]byte("apiVersion: v1\n"))
	if err != nil {
		t.Fatalf("parsing base config: %v", err)
	}

	hash, err := auth.HashKey(AdminAPIKey)
	if err != nil {
		t.Fatalf("hashing api key: %v", err)
	}

	cfg.Database.DSN = dsn
	cfg.Schedule.Disabled = true
	cfg.Auth.APIKeys = []platform.APIKeyDef{
		{Name: "e2e-admin", Hash: hash, Roles: []string{auth.RoleAdmin}},
	}
	cfg.Auth.ServiceTokens = platform.ServiceTokensConfig{
		Secret:          ServiceSecret,
		AllowedServices: []string{ServiceID},
	}
	cfg.Pools = []platform.PoolDef{
		{Platform: "ios", DeviceType: "iphone15", TargetSize: 2, MinSize: 1, MaxSize: 4},
	}
	cfg.Quota.Enabled = true
	cfg.Quota.DefaultLimitMinutes = 600
	cfg.Costing.RatePerMinuteUSD = 0.05
	return cfg
}

// BootPlatform starts the platform and serves its full HTTP surface on an
// httptest listener. Everything is torn down when the test completes.
func BootPlatform(t *testing.T, cfg *platform.Config) *TestPlatform {
	t.Helper()

	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		t.Fatalf("creating platform: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("starting platform: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	ts := httptest.NewServer(server.New(p).Handler())
	t.Cleanup(ts.Close)

	return &TestPlatform{Platform: p, Server: ts}
}

// SeedProject registers a project so the dispatcher can resolve its owner.
func (tp *TestPlatform) SeedProject(t *testing.T, projectID, ownerID string) {
	t.Helper()

	err := tp.Platform.ProjectStore().Upsert(context.Background(), &project.Project{
		ID:      projectID,
		OwnerID: ownerID,
		Name:    "e2e " + projectID,
	})
	if err != nil {
		t.Fatalf("seeding project %s: %v", projectID, err)
	}
}

// ServiceToken mints a dispatcher-role token the way the app backend would.
func ServiceToken(t *testing.T) string {
	t.Helper()

	issuer := auth.NewTokenIssuer([]byte(ServiceSecret), "preview-pool", 5*time.Minute)
	token, err := issuer.Issue(ServiceID, []string{auth.RoleDispatcher})
	if err != nil {
		t.Fatalf("issuing service token: %v", err)
	}
	return token
}

// TestContext creates a test context with timeout.
func TestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
