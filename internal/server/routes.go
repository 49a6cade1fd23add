package server

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/tapforge/preview-pool/internal/apidocs"
	"github.com/tapforge/preview-pool/pkg/admin"
	"github.com/tapforge/preview-pool/pkg/auth"
	"github.com/tapforge/preview-pool/pkg/dispatch"
	"github.com/tapforge/preview-pool/pkg/metrics"
	"github.com/tapforge/preview-pool/pkg/middleware"
)

// routes wires the dispatcher, probes, metrics, admin API, and docs onto
// a single mux. The dispatch endpoint accepts any authenticated caller;
// the admin subtree additionally requires the admin role.
func (s *Server) routes() http.Handler {
	p := s.platform
	cfg := p.Config()
	authn := p.Authenticator()

	mux := http.NewServeMux()

	dispatchChain := []middleware.Middleware{
		middleware.Logger(s.logger),
		middleware.Instrument(),
		middleware.Authenticate(authn, s.logger),
	}
	if s.limiter != nil {
		dispatchChain = append(dispatchChain, s.limiter.Handler)
	}
	mux.Handle("POST /v1/pool", middleware.Chain(dispatch.NewHandler(p.Dispatcher()), dispatchChain...))

	checker := p.Health()
	mux.Handle("GET /healthz", checker.LivenessHandler())
	mux.Handle("GET /readyz", checker.ReadinessHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var jobs []string
	if sched := p.Scheduler(); sched != nil {
		jobs = sched.Jobs()
	}
	adminHandler := admin.NewHandler(admin.Deps{
		Store:         p.Store(),
		Provider:      p.Provider(),
		Quotas:        p.QuotaStore(),
		Costs:         p.CostStore(),
		Version:       Version,
		Commit:        Commit,
		BuildDate:     Date,
		Jobs:          jobs,
		MetricsWindow: cfg.Dispatch.DemandWindow,
	}, func(next http.Handler) http.Handler {
		return middleware.Chain(next,
			middleware.Authenticate(authn, s.logger),
			middleware.RequireRole(auth.RoleAdmin),
		)
	})
	mux.Handle("/api/v1/admin/", middleware.Chain(adminHandler,
		middleware.Logger(s.logger),
		middleware.Instrument(),
	))

	// The UI has to be loadable from a browser, so it sits outside the
	// authenticated subtree. It only describes the API, it cannot call
	// it without credentials.
	mux.Handle("GET /api/v1/admin/docs/", middleware.Chain(
		httpSwagger.Handler(httpSwagger.URL("/api/v1/admin/docs/doc.json")),
		middleware.Logger(s.logger),
		middleware.Instrument(),
	))

	return mux
}
