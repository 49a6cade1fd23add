// Package health provides readiness state tracking and HTTP health check handlers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// probeTimeout bounds each dependency probe during a readiness check.
const probeTimeout = 2 * time.Second

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Probe reports whether a dependency can serve traffic, e.g. a database
// ping.
type Probe func(ctx context.Context) error

// Checker tracks the readiness state of the service and gates readiness on
// its dependency probes. It is safe for concurrent use.
type Checker struct {
	state  atomic.Int32
	probes []Probe
}

// NewChecker creates a Checker in the Starting state. Probes run on every
// readiness check once the state is Ready.
func NewChecker(probes ...Probe) *Checker {
	return &Checker{probes: probes}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and all dependency probes pass, 503 otherwise.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}
		for _, probe := range c.probes {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			err := probe(ctx)
			cancel()
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{
					Status: "degraded",
					Reason: err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: c.State()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
