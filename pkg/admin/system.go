package admin

import (
	"net/http"
)

// systemInfoResponse is returned by GET /system/info.
type systemInfoResponse struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Commit    string         `json:"commit"`
	BuildDate string         `json:"build_date"`
	Features  systemFeatures `json:"features"`
	Jobs      []string       `json:"jobs"`
}

// systemFeatures lists platform features based on runtime availability.
type systemFeatures struct {
	Pools     bool `json:"pools"`
	Provider  bool `json:"provider"`
	Quotas    bool `json:"quotas"`
	Costs     bool `json:"costs"`
	Scheduler bool `json:"scheduler"`
}

// getSystemInfo handles GET /api/v1/admin/system/info.
//
// @Summary      Get system info
// @Description  Returns service identity, version, and runtime feature availability.
// @Tags         System
// @Produce      json
// @Success      200  {object}  systemInfoResponse
// @Security     ApiKeyAuth
// @Security     BearerAuth
// @Router       /system/info [get]
func (h *Handler) getSystemInfo(w http.ResponseWriter, _ *http.Request) {
	jobs := h.deps.Jobs
	if jobs == nil {
		jobs = []string{}
	}
	writeJSON(w, http.StatusOK, systemInfoResponse{
		Name:      "preview-pool",
		Version:   h.deps.Version,
		Commit:    h.deps.Commit,
		BuildDate: h.deps.BuildDate,
		Features: systemFeatures{
			Pools:     h.deps.Store != nil,
			Provider:  h.deps.Provider != nil,
			Quotas:    h.deps.Quotas != nil,
			Costs:     h.deps.Costs != nil,
			Scheduler: len(h.deps.Jobs) > 0,
		},
		Jobs: jobs,
	})
}
