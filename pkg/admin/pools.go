package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/pool"
)

// poolResponse is the wire form of a pool definition.
type poolResponse struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	DeviceType string    `json:"device_type"`
	TargetSize int       `json:"target_size"`
	MinSize    int       `json:"min_size"`
	MaxSize    int       `json:"max_size"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// poolListResponse wraps a list of pools.
type poolListResponse struct {
	Pools []poolResponse `json:"pools"`
	Total int            `json:"total"`
}

// poolCreateRequest is the request body for creating a pool.
type poolCreateRequest struct {
	Platform   string `json:"platform"`
	DeviceType string `json:"device_type"`
	TargetSize int    `json:"target_size"`
	MinSize    int    `json:"min_size"`
	MaxSize    int    `json:"max_size"`
}

// poolUpdateRequest is the request body for resizing a pool.
type poolUpdateRequest struct {
	TargetSize int `json:"target_size"`
	MinSize    int `json:"min_size"`
	MaxSize    int `json:"max_size"`
}

func poolToResponse(p *pool.Pool) poolResponse {
	return poolResponse{
		ID:         p.ID,
		Platform:   p.Platform,
		DeviceType: p.DeviceType,
		TargetSize: p.TargetSize,
		MinSize:    p.MinSize,
		MaxSize:    p.MaxSize,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// listPools handles GET /api/v1/admin/pools.
//
// @Summary      List pools
// @Description  Returns all pool definitions with their size bounds.
// @Tags         Pools
// @Produce      json
// @Success      200  {object}  poolListResponse
// @Failure      500  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /pools [get]
func (h *Handler) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.deps.Store.ListPools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}

	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolToResponse(p))
	}
	writeJSON(w, http.StatusOK, poolListResponse{Pools: out, Total: len(out)})
}

// getPool handles GET /api/v1/admin/pools/{id}.
//
// @Summary      Get pool
// @Description  Returns a single pool definition.
// @Tags         Pools
// @Produce      json
// @Param        id  path  string  true  "Pool ID"
// @Success      200  {object}  poolResponse
// @Failure      404  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /pools/{id} [get]
func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Store.GetPool(r.Context(), r.PathValue(pathParamID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load pool")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, poolToResponse(p))
}

// createPool handles POST /api/v1/admin/pools.
//
// @Summary      Create pool
// @Description  Creates a pool for a platform and device type, or updates the size bounds of the existing one.
// @Tags         Pools
// @Accept       json
// @Produce      json
// @Param        body  body  poolCreateRequest  true  "Pool definition"
// @Success      201  {object}  poolResponse
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /pools [post]
func (h *Handler) createPool(w http.ResponseWriter, r *http.Request) {
	var req poolCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Platform == "" {
		writeError(w, http.StatusBadRequest, "platform is required")
		return
	}
	if req.DeviceType == "" {
		writeError(w, http.StatusBadRequest, "device_type is required")
		return
	}

	p := &pool.Pool{
		Platform:   req.Platform,
		DeviceType: req.DeviceType,
		TargetSize: req.TargetSize,
		MinSize:    req.MinSize,
		MaxSize:    req.MaxSize,
	}
	if !p.ValidSizes() {
		writeError(w, http.StatusBadRequest, "size bounds must satisfy 0 <= min <= target <= max and max > 0")
		return
	}

	stored, err := h.deps.Store.EnsurePool(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create pool")
		return
	}
	writeJSON(w, http.StatusCreated, poolToResponse(stored))
}

// updatePool handles PUT /api/v1/admin/pools/{id}.
//
// @Summary      Resize pool
// @Description  Adjusts target, min, and max size of an existing pool.
// @Tags         Pools
// @Accept       json
// @Produce      json
// @Param        id    path  string             true  "Pool ID"
// @Param        body  body  poolUpdateRequest  true  "New size bounds"
// @Success      200  {object}  poolResponse
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /pools/{id} [put]
func (h *Handler) updatePool(w http.ResponseWriter, r *http.Request) {
	var req poolUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	bounds := &pool.Pool{
		TargetSize: req.TargetSize,
		MinSize:    req.MinSize,
		MaxSize:    req.MaxSize,
	}
	if !bounds.ValidSizes() {
		writeError(w, http.StatusBadRequest, "size bounds must satisfy 0 <= min <= target <= max and max > 0")
		return
	}

	stored, err := h.deps.Store.UpdatePoolSizes(r.Context(),
		r.PathValue(pathParamID), req.TargetSize, req.MinSize, req.MaxSize)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update pool")
		return
	}
	writeJSON(w, http.StatusOK, poolToResponse(stored))
}

// getPoolMetrics handles GET /api/v1/admin/pools/{id}/metrics.
//
// @Summary      Get pool metrics
// @Description  Returns the pool's occupancy counts and recent demand.
// @Tags         Pools
// @Produce      json
// @Param        id  path  string  true  "Pool ID"
// @Success      200  {object}  pool.Metrics
// @Failure      404  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /pools/{id}/metrics [get]
func (h *Handler) getPoolMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Store.ComputePoolMetrics(r.Context(),
		r.PathValue(pathParamID), h.deps.MetricsWindow)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			writeError(w, http.StatusNotFound, "pool not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to compute pool metrics")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
