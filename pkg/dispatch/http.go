package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/tapforge/preview-pool/pkg/fault"
)

// maxBodyBytes bounds the dispatcher request body.
const maxBodyBytes = 1 << 20

// Handler serves the dispatcher as the POST /v1/pool endpoint.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler wraps the dispatcher for HTTP.
func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// ServeHTTP handles one pool API request.
//
// @Summary      Pool action
// @Description  Runs one pool action: allocate, release, health_check, scale, or metrics.
// @Tags         Pool
// @Accept       json
// @Produce      json
// @Param        request  body      Request  true  "action request"
// @Success      200      {object}  Response
// @Failure      400      {object}  Response
// @Failure      404      {object}  Response
// @Failure      429      {object}  Response
// @Failure      502      {object}  Response
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /v1/pool [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, failure(fault.Validationf("method %s not allowed", r.Method)), http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		resp := failure(fault.Validationf("invalid request body: %v", err))
		writeResponse(w, resp, resp.HTTPStatus())
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), &req)
	writeResponse(w, resp, resp.HTTPStatus())
}

func writeResponse(w http.ResponseWriter, resp *Response, status int) {
	if resp.Error != nil && resp.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(resp.Error.RetryAfterSeconds, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Verify interface compliance.
var _ http.Handler = (*Handler)(nil)
