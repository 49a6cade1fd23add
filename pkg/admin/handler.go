// Package admin provides REST API endpoints for administrative operations.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tapforge/preview-pool/pkg/costing"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/provider"
	"github.com/tapforge/preview-pool/pkg/quota"
)

const (
	pathParamID     = "id"
	pathParamUserID = "userId"

	defaultListLimit = 50
	maxListLimit     = 500

	defaultMetricsWindow = 10 * time.Minute
)

// Deps are the collaborators the admin API reads and writes. Route groups
// whose dependency is nil are not registered.
type Deps struct {
	Store    pool.Store
	Provider provider.Adapter
	Quotas   quota.Store
	Costs    costing.Store

	// Version identity, set from build info by the caller.
	Version   string
	Commit    string
	BuildDate string

	// Jobs lists the scheduled sweep names for system info.
	Jobs []string

	// MetricsWindow bounds the recent-demand figure on pool metrics reads.
	// Defaults to 10m.
	MetricsWindow time.Duration
}

// Handler provides admin REST API endpoints.
type Handler struct {
	mux        *http.ServeMux
	deps       Deps
	authMiddle func(http.Handler) http.Handler
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps, authMiddle func(http.Handler) http.Handler) *Handler {
	if deps.MetricsWindow <= 0 {
		deps.MetricsWindow = defaultMetricsWindow
	}
	h := &Handler{
		mux:        http.NewServeMux(),
		deps:       deps,
		authMiddle: authMiddle,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authMiddle != nil {
		h.authMiddle(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all admin API routes.
func (h *Handler) registerRoutes() {
	if h.deps.Store != nil {
		h.mux.HandleFunc("GET /api/v1/admin/pools", h.listPools)
		h.mux.HandleFunc("POST /api/v1/admin/pools", h.createPool)
		h.mux.HandleFunc("GET /api/v1/admin/pools/{id}", h.getPool)
		h.mux.HandleFunc("PUT /api/v1/admin/pools/{id}", h.updatePool)
		h.mux.HandleFunc("GET /api/v1/admin/pools/{id}/metrics", h.getPoolMetrics)
		h.mux.HandleFunc("GET /api/v1/admin/sessions", h.listSessions)
		h.mux.HandleFunc("GET /api/v1/admin/sessions/{id}", h.getSession)
		h.mux.HandleFunc("POST /api/v1/admin/sessions/{id}/reload", h.reloadSession)
		h.mux.HandleFunc("POST /api/v1/admin/sessions/{id}/terminate", h.terminateSession)
		h.mux.HandleFunc("GET /api/v1/admin/allocations", h.listAllocations)
	}
	if h.deps.Quotas != nil {
		h.mux.HandleFunc("GET /api/v1/admin/quotas", h.listQuotas)
		h.mux.HandleFunc("GET /api/v1/admin/quotas/{userId}", h.getQuota)
		h.mux.HandleFunc("PUT /api/v1/admin/quotas/{userId}", h.putQuota)
	}
	if h.deps.Costs != nil {
		h.mux.HandleFunc("GET /api/v1/admin/costs", h.listCosts)
	}
	h.mux.HandleFunc("GET /api/v1/admin/system/info", h.getSystemInfo)
}

// errorResponse is the error payload of every failed admin call.
type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse acknowledges a state-changing call with no richer payload.
type statusResponse struct {
	Status string `json:"status"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// queryInt reads an integer query parameter, falling back on absence or
// garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// listBounds reads limit/offset with the admin defaults applied.
func listBounds(r *http.Request) (limit, offset int) {
	limit = queryInt(r, "limit", defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, queryInt(r, "offset", 0)
}
