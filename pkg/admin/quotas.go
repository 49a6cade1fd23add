package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/quota"
)

// quotaResponse is the wire form of a user quota.
type quotaResponse struct {
	UserID       string    `json:"user_id"`
	LimitMinutes int64     `json:"limit_minutes"`
	UsedMinutes  int64     `json:"used_minutes"`
	PeriodMonth  string    `json:"period_month"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// quotaListResponse wraps a list of quotas.
type quotaListResponse struct {
	Quotas []quotaResponse `json:"quotas"`
	Total  int             `json:"total"`
}

// quotaPutRequest is the body for setting a user's quota.
type quotaPutRequest struct {
	LimitMinutes int64 `json:"limit_minutes"`

	// UsedMinutes resets recorded usage when provided; omit to preserve it.
	UsedMinutes *int64 `json:"used_minutes,omitempty"`
}

func quotaToResponse(q *quota.UserQuota) quotaResponse {
	return quotaResponse{
		UserID:       q.UserID,
		LimitMinutes: q.LimitMinutes,
		UsedMinutes:  q.UsedMinutes,
		PeriodMonth:  q.PeriodMonth,
		UpdatedAt:    q.UpdatedAt,
	}
}

// listQuotas handles GET /api/v1/admin/quotas.
//
// @Summary      List quotas
// @Description  Returns all user quota rows.
// @Tags         Quotas
// @Produce      json
// @Success      200  {object}  quotaListResponse
// @Failure      500  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /quotas [get]
func (h *Handler) listQuotas(w http.ResponseWriter, r *http.Request) {
	quotas, err := h.deps.Quotas.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list quotas")
		return
	}

	out := make([]quotaResponse, 0, len(quotas))
	for _, q := range quotas {
		out = append(out, quotaToResponse(q))
	}
	writeJSON(w, http.StatusOK, quotaListResponse{Quotas: out, Total: len(out)})
}

// getQuota handles GET /api/v1/admin/quotas/{userId}.
//
// @Summary      Get quota
// @Description  Returns one user's quota row.
// @Tags         Quotas
// @Produce      json
// @Param        userId  path  string  true  "User ID"
// @Success      200  {object}  quotaResponse
// @Failure      404  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /quotas/{userId} [get]
func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request) {
	q, err := h.deps.Quotas.Get(r.Context(), r.PathValue(pathParamUserID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load quota")
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "no quota recorded for user")
		return
	}
	writeJSON(w, http.StatusOK, quotaToResponse(q))
}

// putQuota handles PUT /api/v1/admin/quotas/{userId}.
//
// @Summary      Set quota
// @Description  Creates or replaces a user's monthly minute budget. Recorded usage is preserved unless used_minutes is given.
// @Tags         Quotas
// @Accept       json
// @Produce      json
// @Param        userId  path  string           true  "User ID"
// @Param        body    body  quotaPutRequest  true  "Quota settings"
// @Success      200  {object}  quotaResponse
// @Failure      400  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /quotas/{userId} [put]
func (h *Handler) putQuota(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue(pathParamUserID)

	var req quotaPutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UsedMinutes != nil && *req.UsedMinutes < 0 {
		writeError(w, http.StatusBadRequest, "used_minutes cannot be negative")
		return
	}

	existing, err := h.deps.Quotas.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load quota")
		return
	}

	now := time.Now().UTC()
	q := &quota.UserQuota{
		UserID:       userID,
		LimitMinutes: req.LimitMinutes,
		PeriodMonth:  quota.CurrentPeriod(now),
		UpdatedAt:    now,
	}
	if existing != nil && existing.PeriodMonth == q.PeriodMonth {
		q.UsedMinutes = existing.UsedMinutes
	}
	if req.UsedMinutes != nil {
		q.UsedMinutes = *req.UsedMinutes
	}

	if err := h.deps.Quotas.Upsert(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store quota")
		return
	}
	writeJSON(w, http.StatusOK, quotaToResponse(q))
}
