// Package dispatch routes pool API requests to the allocator, health
// monitor, scaler, and metrics reads.
//
// The request body is validated against a closed action enum before any
// routing; unknown actions are rejected. Every outcome, including failures,
// is returned as a structured response. Nothing in the dispatcher is fatal
// to the process.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/allocator"
	"github.com/tapforge/preview-pool/pkg/fault"
	"github.com/tapforge/preview-pool/pkg/metrics"
	"github.com/tapforge/preview-pool/pkg/monitor"
	"github.com/tapforge/preview-pool/pkg/pool"
	"github.com/tapforge/preview-pool/pkg/project"
	"github.com/tapforge/preview-pool/pkg/scaler"
)

const defaultDemandWindow = 10 * time.Minute

// Action is one of the operations the dispatcher accepts.
type Action string

const (
	ActionAllocate    Action = "allocate"
	ActionRelease     Action = "release"
	ActionHealthCheck Action = "health_check"
	ActionScale       Action = "scale"
	ActionMetrics     Action = "metrics"
)

// Request is the dispatcher's wire request.
type Request struct {
	Action     Action `json:"action"`
	ProjectID  string `json:"projectId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	PoolID     string `json:"poolId,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// WireError is the structured failure payload.
type WireError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

// Response is the dispatcher's wire response. Metrics carries the
// action-specific payload: pool metrics for "metrics", probe results for
// "health_check", scale outcomes for "scale".
type Response struct {
	Success    bool       `json:"success"`
	SessionID  string     `json:"sessionId,omitempty"`
	SessionURL string     `json:"sessionUrl,omitempty"`
	PublicKey  string     `json:"publicKey,omitempty"`
	Error      *WireError `json:"error,omitempty"`
	Metrics    any        `json:"metrics,omitempty"`

	err error
}

// HTTPStatus maps the response outcome to a status code.
func (r *Response) HTTPStatus() int {
	if r.Success {
		return http.StatusOK
	}
	return fault.StatusOf(r.err)
}

// HealthItem is one probe outcome on the wire.
type HealthItem struct {
	SessionID    string            `json:"sessionId"`
	HealthStatus pool.HealthStatus `json:"healthStatus"`
	Error        string            `json:"error,omitempty"`
}

// ScaleItem is one pool's scaling outcome on the wire.
type ScaleItem struct {
	PoolID      string           `json:"poolId"`
	Action      pool.ScaleAction `json:"action"`
	Provisioned string           `json:"provisioned,omitempty"`
	Terminated  int              `json:"terminated,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Deps are the collaborators the dispatcher routes to.
type Deps struct {
	Allocator *allocator.Allocator
	Monitor   *monitor.Monitor
	Scaler    *scaler.Scaler
	Store     pool.Store
	Projects  *project.Resolver
}

// Config tunes the dispatcher.
type Config struct {
	// DemandWindow bounds the recent-demand metric on metrics reads.
	// Defaults to 10m.
	DemandWindow time.Duration
}

// Dispatcher validates and routes pool API requests.
type Dispatcher struct {
	deps         Deps
	demandWindow time.Duration
	logger       *slog.Logger
}

// New creates a dispatcher over the given collaborators.
func New(deps Deps, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.DemandWindow <= 0 {
		cfg.DemandWindow = defaultDemandWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{deps: deps, demandWindow: cfg.DemandWindow, logger: logger}
}

// Dispatch routes one request. Failures are carried in the response, never
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	var resp *Response
	switch req.Action {
	case ActionAllocate:
		resp = d.allocate(ctx, req)
	case ActionRelease:
		resp = d.release(ctx, req)
	case ActionHealthCheck:
		resp = d.healthCheck(ctx, req)
	case ActionScale:
		resp = d.scale(ctx, req)
	case ActionMetrics:
		resp = d.metrics(ctx, req)
	case "":
		resp = failure(fault.Validationf("action is required"))
	default:
		resp = failure(fault.Validationf("unknown action %q", req.Action))
	}

	if resp.Error != nil {
		switch fault.KindOf(resp.err) {
		case fault.KindProvider, fault.KindInternal:
			d.logger.Error("dispatch: action failed",
				"action", req.Action, "code", resp.Error.Code, "error", resp.Error.Message)
		default:
			d.logger.Debug("dispatch: action rejected",
				"action", req.Action, "code", resp.Error.Code)
		}
	}
	return resp
}

func (d *Dispatcher) allocate(ctx context.Context, req *Request) *Response {
	proj, err := d.deps.Projects.Resolve(ctx, req.ProjectID)
	if err != nil {
		return failure(err)
	}

	// A project records the platform it builds for; requests may omit it.
	platform := req.Platform
	if platform == "" {
		platform = proj.Platform
	}

	res, err := d.deps.Allocator.Allocate(ctx, proj.OwnerID, platform, req.DeviceType, req.Priority)
	if err != nil {
		if fault.IsKind(err, fault.KindQuotaExceeded) {
			metrics.RecordQuotaRejection()
		}
		return failure(err)
	}
	metrics.RecordAllocation(res.Type)
	return &Response{
		Success:    true,
		SessionID:  res.SessionID,
		SessionURL: res.SessionURL,
		PublicKey:  res.PublicKey,
	}
}

func (d *Dispatcher) release(ctx context.Context, req *Request) *Response {
	if _, err := d.deps.Allocator.Release(ctx, req.SessionID, ""); err != nil {
		return failure(err)
	}
	metrics.RecordRelease()
	return &Response{Success: true, SessionID: req.SessionID}
}

func (d *Dispatcher) healthCheck(ctx context.Context, req *Request) *Response {
	results, err := d.deps.Monitor.HealthCheck(ctx, req.PoolID)
	if err != nil {
		return failure(err)
	}

	items := make([]HealthItem, 0, len(results))
	for _, res := range results {
		item := HealthItem{SessionID: res.SessionID, HealthStatus: res.HealthStatus}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		items = append(items, item)
	}
	return &Response{Success: true, Metrics: items}
}

func (d *Dispatcher) scale(ctx context.Context, req *Request) *Response {
	results, err := d.deps.Scaler.Scale(ctx, req.PoolID)
	if err != nil {
		return failure(err)
	}

	items := make([]ScaleItem, 0, len(results))
	for _, res := range results {
		item := ScaleItem{
			PoolID:      res.PoolID,
			Action:      res.Action,
			Provisioned: res.Provisioned,
			Terminated:  len(res.Terminated),
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		if res.Action != "" {
			metrics.RecordScaleDecision(res.Action)
		}
		metrics.RecordTerminated(len(res.Terminated))
		metrics.RecordPoolGauges(res.PoolID, res.Metrics)
		items = append(items, item)
	}
	return &Response{Success: true, Metrics: items}
}

func (d *Dispatcher) metrics(ctx context.Context, req *Request) *Response {
	if req.PoolID == "" {
		return failure(fault.Validationf("poolId is required"))
	}

	m, err := d.deps.Store.ComputePoolMetrics(ctx, req.PoolID, d.demandWindow)
	if err != nil {
		return failure(err)
	}
	return &Response{Success: true, Metrics: m}
}

func failure(err error) *Response {
	we := &WireError{Code: string(fault.KindOf(err)), Message: err.Error()}
	if ra := fault.RetryAfterOf(err); ra > 0 {
		we.RetryAfterSeconds = int64(ra / time.Second)
	}
	return &Response{Success: false, Error: we, err: err}
}
