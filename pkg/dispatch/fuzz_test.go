package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tapforge/preview-pool/pkg/allocator"
	"github.com/tapforge/preview-pool/pkg/monitor"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/project"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/scaler"
)

// FuzzHandleRequest fuzzes the request body path: decode, validate, route.
func FuzzHandleRequest(f *testing.F) {
	// Seed corpus with various body shapes
	f.Add(`{"action":"allocate","projectId":"proj-1","platform":"ios","deviceType":"iphone15"}`)
	f.Add(`{"action":"release","sessionId":"00000000-0000-0000-0000-000000000000"}`)
	f.Add(`{"action":"health_check"}`)
	f.Add(`{"action":"scale"}`)
	f.Add(`{"action":"metrics","poolId":"p1"}`)
	f.Add(`{"action":"reboot"}`)
	f.Add(`{}`)
	f.Add(`null`)
	f.Add(`[1,2,3]`)
	f.Add(`{"action":5}`)
	f.Add(`{not json`)
	f.Add(`{"action":"allocate","priority":-9223372036854775808}`)
	f.Add(`{"action":"allocate","projectId":"` + strings.Repeat("x", 4096) + `"}`)
	f.Add(`{"action":"allocate","action":"release"}`)

	store := pool.NewMemoryStore()
	projects := project.NewMemoryStore()
	adapter := provider.NewNoop("https://preview.example.com")
	if err := projects.Upsert(context.Background(), &project.Project{
		ID:      "proj-1",
		OwnerID: "owner-1",
		Name:    "todo-app",
	}); err != nil {
		f.Fatal(err)
	}
	if _, err := store.EnsurePool(context.Background(), &pool.Pool{
		Platform:   "ios",
		DeviceType: "iphone15",
		TargetSize: 1,
		MaxSize:    4,
	}); err != nil {
		f.Fatal(err)
	}

	h := NewHandler(New(Deps{
		Allocator: allocator.New(store, adapter, allocator.Config{}, slog.Default()),
		Monitor:   monitor.New(store, adapter, monitor.Config{}, slog.Default()),
		Scaler:    scaler.New(store, adapter, scaler.Config{}, slog.Default()),
		Store:     store,
		Projects:  project.NewResolver(projects),
	}, Config{}, slog.Default()))

	f.Fuzz(func(_ *testing.T, body string) {
		req := httptest.NewRequest(http.MethodPost, "/v1/pool", strings.NewReader(body))
		rec := httptest.NewRecorder()

		// Should never panic; every body gets a structured response
		h.ServeHTTP(rec, req)
	})
}
