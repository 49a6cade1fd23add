package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/pool"
)

// sessionResponse is the wire form of a session instance.
type sessionResponse struct {
	ID                string     `json:"id"`
	PoolID            string     `json:"pool_id"`
	ProviderSessionID string     `json:"provider_session_id,omitempty"`
	PublicHandle      string     `json:"public_handle,omitempty"`
	Status            string     `json:"status"`
	HealthStatus      string     `json:"health_status"`
	LastConsumerID    string     `json:"last_consumer_id,omitempty"`
	LastActiveAt      time.Time  `json:"last_active_at"`
	LastHealthCheckAt *time.Time `json:"last_health_check_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
}

// sessionListResponse wraps a list of sessions.
type sessionListResponse struct {
	Sessions []sessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

// sessionReloadRequest is the body of the reload call.
type sessionReloadRequest struct {
	ArtifactURL string `json:"artifact_url"`
}

func sessionToResponse(s *pool.SessionInstance) sessionResponse {
	return sessionResponse{
		ID:                s.ID,
		PoolID:            s.PoolID,
		ProviderSessionID: s.ProviderSessionID,
		PublicHandle:      s.PublicHandle,
		Status:            string(s.Status),
		HealthStatus:      string(s.HealthStatus),
		LastConsumerID:    s.LastConsumerID,
		LastActiveAt:      s.LastActiveAt,
		LastHealthCheckAt: s.LastHealthCheckAt,
		CreatedAt:         s.CreatedAt,
		TerminatedAt:      s.TerminatedAt,
	}
}

// validStatusFilter reports whether the status query value names a
// lifecycle state.
func validStatusFilter(s string) bool {
	switch pool.Status(s) {
	case pool.StatusReady, pool.StatusAllocated, pool.StatusHibernated,
		pool.StatusTerminating, pool.StatusTerminated:
		return true
	}
	return false
}

// listSessions handles GET /api/v1/admin/sessions.
//
// @Summary      List sessions
// @Description  Returns session instances, optionally filtered by pool and status.
// @Tags         Sessions
// @Produce      json
// @Param        pool_id  query  string   false  "Filter by pool"
// @Param        status   query  string   false  "Filter by lifecycle status"
// @Param        limit    query  integer  false  "Page size (default 50, max 500)"
// @Param        offset   query  integer  false  "Page offset"
// @Success      200  {object}  sessionListResponse
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions [get]
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !validStatusFilter(status) {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	limit, offset := listBounds(r)
	sessions, err := h.deps.Store.ListSessions(r.Context(), pool.SessionFilter{
		PoolID: r.URL.Query().Get("pool_id"),
		Status: pool.Status(status),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToResponse(s))
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: out, Total: len(out)})
}

// getSession handles GET /api/v1/admin/sessions/{id}.
//
// @Summary      Get session
// @Description  Returns a single session instance.
// @Tags         Sessions
// @Produce      json
// @Param        id  path  string  true  "Session instance ID"
// @Success      200  {object}  sessionResponse
// @Failure      404  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id} [get]
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Store.GetSession(r.Context(), r.PathValue(pathParamID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(s))
}

// reloadSession handles POST /api/v1/admin/sessions/{id}/reload.
//
// @Summary      Reload session artifact
// @Description  Swaps the artifact running in the remote session, the refresh path after a new app build.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        id    path  string                true  "Session instance ID"
// @Param        body  body  sessionReloadRequest  true  "Artifact to load"
// @Success      200  {object}  statusResponse
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      502  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/reload [post]
func (h *Handler) reloadSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Provider == nil {
		writeError(w, http.StatusServiceUnavailable, "no provider configured")
		return
	}

	var req sessionReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ArtifactURL == "" {
		writeError(w, http.StatusBadRequest, "artifact_url is required")
		return
	}

	s, err := h.deps.Store.GetSession(r.Context(), r.PathValue(pathParamID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if s.Status == pool.StatusTerminating || s.Status == pool.StatusTerminated {
		writeError(w, http.StatusConflict, "session is shutting down")
		return
	}

	if err := h.deps.Provider.ReloadSession(r.Context(), s.ProviderSessionID, req.ArtifactURL); err != nil {
		writeError(w, fault.StatusOf(err), "provider reload failed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "reloaded"})
}

// terminateSession handles POST /api/v1/admin/sessions/{id}/terminate.
//
// @Summary      Terminate session
// @Description  Marks the instance terminating; the scheduled scale cycle performs the verified provider delete.
// @Tags         Sessions
// @Produce      json
// @Param        id  path  string  true  "Session instance ID"
// @Success      202  {object}  statusResponse
// @Failure      404  {object}  errorResponse
// @Failure      409  {object}  errorResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /sessions/{id}/terminate [post]
func (h *Handler) terminateSession(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Store.MarkTerminating(r.Context(), r.PathValue(pathParamID))
	if err != nil {
		switch {
		case fault.IsKind(err, fault.KindNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case fault.IsKind(err, fault.KindValidation):
			writeError(w, http.StatusConflict, "session is already terminated")
		default:
			writeError(w, http.StatusInternalServerError, "failed to mark session terminating")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "terminating"})
}
