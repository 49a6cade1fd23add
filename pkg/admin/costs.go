package admin

import (
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/costing"
)

// costListResponse wraps cost records with totals over the same range.
type costListResponse struct {
	Records []*costing.CostRecord `json:"records"`
	Totals  *costing.Totals       `json:"totals,omitempty"`
	Total   int                   `json:"total"`
}

// listCosts handles GET /api/v1/admin/costs.
//
// @Summary      List cost records
// @Description  Returns billing records newest first, optionally filtered by session and period, with aggregate totals for the period.
// @Tags         Costs
// @Produce      json
// @Param        session_id  query  string   false  "Filter by session instance"
// @Param        from        query  string   false  "Period start, RFC 3339"
// @Param        to          query  string   false  "Period end, RFC 3339"
// @Param        limit       query  integer  false  "Page size (default 50, max 500)"
// @Param        offset      query  integer  false  "Page offset"
// @Success      200  {object}  costListResponse
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /costs [get]
func (h *Handler) listCosts(w http.ResponseWriter, r *http.Request) {
	from, ok := queryTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, "to")
	if !ok {
		return
	}

	limit, offset := listBounds(r)
	filter := costing.Filter{
		SessionInstanceID: r.URL.Query().Get("session_id"),
		From:              from,
		To:                to,
		Limit:             limit,
		Offset:            offset,
	}

	records, err := h.deps.Costs.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list cost records")
		return
	}
	if records == nil {
		records = []*costing.CostRecord{}
	}

	resp := costListResponse{Records: records, Total: len(records)}
	if !from.IsZero() && !to.IsZero() {
		totals, err := h.deps.Costs.Totals(r.Context(), from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to total cost records")
			return
		}
		resp.Totals = totals
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryTime parses an optional RFC 3339 query parameter, answering the
// request itself when the value is malformed.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be RFC 3339")
		return time.Time{}, false
	}
	return t, true
}
