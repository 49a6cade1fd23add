package admin

import (
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/pool"
)

// allocationResponse is the wire form of an allocation.
type allocationResponse struct {
	ID                string     `json:"id"`
	SessionInstanceID string     `json:"session_instance_id"`
	ConsumerID        string     `json:"consumer_id"`
	Type              string     `json:"type"`
	Priority          int        `json:"priority"`
	AllocatedAt       time.Time  `json:"allocated_at"`
	ReleasedAt        *time.Time `json:"released_at,omitempty"`
	DurationSeconds   int64      `json:"duration_seconds,omitempty"`
	ReleaseReason     string     `json:"release_reason,omitempty"`
}

// allocationListResponse wraps a list of allocations.
type allocationListResponse struct {
	Allocations []allocationResponse `json:"allocations"`
	Total       int                  `json:"total"`
}

func allocationToResponse(a *pool.Allocation) allocationResponse {
	return allocationResponse{
		ID:                a.ID,
		SessionInstanceID: a.SessionInstanceID,
		ConsumerID:        a.ConsumerID,
		Type:              string(a.Type),
		Priority:          a.Priority,
		AllocatedAt:       a.AllocatedAt,
		ReleasedAt:        a.ReleasedAt,
		DurationSeconds:   a.DurationSeconds,
		ReleaseReason:     a.ReleaseReason,
	}
}

// listAllocations handles GET /api/v1/admin/allocations.
//
// @Summary      List allocations
// @Description  Returns allocations newest first, optionally filtered by session, consumer, or open state.
// @Tags         Allocations
// @Produce      json
// @Param        session_id   query  string   false  "Filter by session instance"
// @Param        consumer_id  query  string   false  "Filter by consumer"
// @Param        open         query  boolean  false  "Only open allocations"
// @Param        limit        query  integer  false  "Page size (default 50, max 500)"
// @Param        offset       query  integer  false  "Page offset"
// @Success      200  {object}  allocationListResponse
// @Failure      500  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /allocations [get]
func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	limit, offset := listBounds(r)
	allocs, err := h.deps.Store.ListAllocations(r.Context(), pool.AllocationFilter{
		SessionInstanceID: r.URL.Query().Get("session_id"),
		ConsumerID:        r.URL.Query().Get("consumer_id"),
		OpenOnly:          r.URL.Query().Get("open") == "true",
		Limit:             limit,
		Offset:            offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list allocations")
		return
	}

	out := make([]allocationResponse, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, allocationToResponse(a))
	}
	writeJSON(w, http.StatusOK, allocationListResponse{Allocations: out, Total: len(out)})
}
