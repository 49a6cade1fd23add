//go:build integration

package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tapforge/preview-pool/pkg/costing"
	"github.com/tapforge/preview-pool/pkg/pool"
)

// --- Response types (mirrors unexported admin package types) ---

// AdminSystemInfo mirrors the admin systemInfoResponse.
type AdminSystemInfo struct {
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Commit    string              `json:"commit"`
	BuildDate string              `json:"build_date"`
	Features  AdminSystemFeatures `json:"features"`
	Jobs      []string            `json:"jobs"`
}

// AdminSystemFeatures mirrors the admin systemFeatures.
type AdminSystemFeatures struct {
	Pools     bool `json:"pools"`
	Provider  bool `json:"provider"`
	Quotas    bool `json:"quotas"`
	Costs     bool `json:"costs"`
	Scheduler bool `json:"scheduler"`
}

// AdminPool mirrors the admin poolResponse.
type AdminPool struct {
	ID         string    `json:"id"`
	Platform   string    `json:"platform"`
	DeviceType string    `json:"device_type"`
	TargetSize int       `json:"target_size"`
	MinSize    int       `json:"min_size"`
	MaxSize    int       `json:"max_size"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AdminPoolList mirrors the admin poolListResponse.
type AdminPoolList struct {
	Pools []AdminPool `json:"pools"`
	Total int         `json:"total"`
}

// AdminSession mirrors the admin sessionResponse.
type AdminSession struct {
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

// AdminSessionList mirrors the admin sessionListResponse.
type AdminSessionList struct {
	Sessions []AdminSession `json:"sessions"`
	Total    int            `json:"total"`
}

// AdminAllocation mirrors the admin allocationResponse.
type AdminAllocation struct {
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

// AdminAllocationList mirrors the admin allocationListResponse.
type AdminAllocationList struct {
	Allocations []AdminAllocation `json:"allocations"`
	Total       int               `json:"total"`
}

// AdminQuota mirrors the admin quotaResponse.
type AdminQuota struct {
	UserID       string    `json:"user_id"`
	LimitMinutes int64     `json:"limit_minutes"`
	UsedMinutes  int64     `json:"used_minutes"`
	PeriodMonth  string    `json:"period_month"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdminQuotaList mirrors the admin quotaListResponse.
type AdminQuotaList struct {
	Quotas []AdminQuota `json:"quotas"`
	Total  int          `json:"total"`
}

// AdminCostList mirrors the admin costListResponse.
type AdminCostList struct {
	Records []*costing.CostRecord `json:"records"`
	Totals  *costing.Totals       `json:"totals,omitempty"`
	Total   int                   `json:"total"`
}

// QuotaPutRequest is the request body for setting a user's quota.
type QuotaPutRequest struct {
	LimitMinutes int64  `json:"limit_minutes"`
	UsedMinutes  *int64 `json:"used_minutes,omitempty"`
}

// PoolCreateRequest is the request body for creating a pool.
type PoolCreateRequest struct {
	Platform   string `json:"platform"`
	DeviceType string `json:"device_type"`
	TargetSize int    `json:"target_size"`
	MinSize    int    `json:"min_size"`
	MaxSize    int    `json:"max_size"`
}

// --- Dispatch wire types ---

// DispatchRequest mirrors the dispatcher request envelope.
type DispatchRequest struct {
	Action     string `json:"action"`
	ProjectID  string `json:"projectId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	PoolID     string `json:"poolId,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// DispatchError mirrors the dispatcher wire error.
type DispatchError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

// DispatchResponse mirrors the dispatcher response envelope. Metrics is
// left as raw JSON so tests can decode it per action.
type DispatchResponse struct {
	Success    bool            `json:"success"`
	SessionID  string          `json:"sessionId,omitempty"`
	SessionURL string          `json:"sessionUrl,omitempty"`
	PublicKey  string          `json:"publicKey,omitempty"`
	Error      *DispatchError  `json:"error,omitempty"`
	Metrics    json.RawMessage `json:"metrics,omitempty"`
}

// DispatchHealthItem mirrors one probe outcome in a "health_check" response.
type DispatchHealthItem struct {
	SessionID    string `json:"sessionId"`
	HealthStatus string `json:"healthStatus"`
	Error        string `json:"error,omitempty"`
}

// DispatchScaleItem mirrors one pool outcome in a "scale" response.
type DispatchScaleItem struct {
	PoolID      string `json:"poolId"`
	Action      string `json:"action"`
	Provisioned string `json:"provisioned,omitempty"`
	Terminated  int    `json:"terminated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PoolMetrics decodes the payload of a "metrics" response.
func (r *DispatchResponse) PoolMetrics() (*pool.Metrics, error) {
	if r.Metrics == nil {
		return nil, fmt.Errorf("response carries no metrics payload")
	}
	var out pool.Metrics
	if err := json.Unmarshal(r.Metrics, &out); err != nil {
		return nil, fmt.Errorf("decoding metrics payload: %w", err)
	}
	return &out, nil
}

// HealthItems decodes the payload of a "health_check" response.
func (r *DispatchResponse) HealthItems() ([]DispatchHealthItem, error) {
	if r.Metrics == nil {
		return nil, fmt.Errorf("response carries no health payload")
	}
	var out []DispatchHealthItem
	if err := json.Unmarshal(r.Metrics, &out); err != nil {
		return nil, fmt.Errorf("decoding health payload: %w", err)
	}
	return out, nil
}

// ScaleItems decodes the payload of a "scale" response.
func (r *DispatchResponse) ScaleItems() ([]DispatchScaleItem, error) {
	if r.Metrics == nil {
		return nil, fmt.Errorf("response carries no scale payload")
	}
	var out []DispatchScaleItem
	if err := json.Unmarshal(r.Metrics, &out); err != nil {
		return nil, fmt.Errorf("decoding scale payload: %w", err)
	}
	return out, nil
}

// --- Client ---

// Client is an HTTP client for the dispatch and admin endpoints. APIKey
// and Token are alternatives; whichever is set becomes the credential.
type Client struct {
	BaseURL string
	APIKey  string
	Token   string
	Client  *http.Client
}

// NewAdminClient creates a client that authenticates with an API key.
func NewAdminClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewServiceClient creates a client that authenticates with a bearer token.
func NewServiceClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewAnonymousClient creates a client without credentials.
func NewAnonymousClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// doRequest performs an HTTP request with auth headers.
func (c *Client) doRequest(method, path string, body io.Reader, contentType string) (*http.Response, error) {
	url := c.BaseURL + path
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Client.Do(req)
}

func (c *Client) get(path string) (*http.Response, error) {
	return c.doRequest(http.MethodGet, path, nil, "")
}

func (c *Client) postJSON(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}
	return c.doRequest(http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func (c *Client) putJSON(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling body: %w", err)
	}
	return c.doRequest(http.MethodPut, path, bytes.NewReader(data), "application/json")
}

// --- Dispatch endpoint ---

// Dispatch calls POST /v1/pool with the given request envelope.
func (c *Client) Dispatch(req DispatchRequest) (*DispatchResponse, int, error) {
	resp, err := c.postJSON("/v1/pool", req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var result DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// Allocate dispatches an allocate action for the project.
func (c *Client) Allocate(projectID, platform, deviceType string) (*DispatchResponse, int, error) {
	return c.Dispatch(DispatchRequest{
		Action:     "allocate",
		ProjectID:  projectID,
		Platform:   platform,
		DeviceType: deviceType,
	})
}

// Release dispatches a release action for the session.
func (c *Client) Release(sessionID string) (*DispatchResponse, int, error) {
	return c.Dispatch(DispatchRequest{Action: "release", SessionID: sessionID})
}

// --- System endpoints ---

// SystemInfo calls GET /api/v1/admin/system/info.
func (c *Client) SystemInfo() (*AdminSystemInfo, int, error) {
	resp, err := c.get("/api/v1/admin/system/info")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var result AdminSystemInfo
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// --- Pool endpoints ---

// ListPools calls GET /api/v1/admin/pools.
func (c *Client) ListPools() (*AdminPoolList, int, error) {
	resp, err := c.get("/api/v1/admin/pools")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var result AdminPoolList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// CreatePool calls POST /api/v1/admin/pools.
func (c *Client) CreatePool(req PoolCreateRequest) (*AdminPool, int, error) {
	resp, err := c.postJSON("/api/v1/admin/pools", req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result AdminPool
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// GetPool calls GET /api/v1/admin/pools/{id}.
func (c *Client) GetPool(id string) (*AdminPool, int, error) {
	resp, err := c.get("/api/v1/admin/pools/" + id)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result AdminPool
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// PoolMetrics calls GET /api/v1/admin/pools/{id}/metrics.
func (c *Client) PoolMetrics(id string) (*pool.Metrics, int, error) {
	resp, err := c.get("/api/v1/admin/pools/" + id + "/metrics")
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result pool.Metrics
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// --- Session endpoints ---

// ListSessions calls GET /api/v1/admin/sessions with optional query params.
func (c *Client) ListSessions(params string) (*AdminSessionList, int, error) {
	path := "/api/v1/admin/sessions"
	if params != "" {
		path += "?" + params
	}
	resp, err := c.get(path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var result AdminSessionList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// GetSession calls GET /api/v1/admin/sessions/{id}.
func (c *Client) GetSession(id string) (*AdminSession, int, error) {
	resp, err := c.get("/api/v1/admin/sessions/" + id)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result AdminSession
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// TerminateSession calls POST /api/v1/admin/sessions/{id}/terminate.
func (c *Client) TerminateSession(id string) (int, error) {
	resp, err := c.postJSON("/api/v1/admin/sessions/"+id+"/terminate", struct{}{})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// ReloadSession calls POST /api/v1/admin/sessions/{id}/reload.
func (c *Client) ReloadSession(id, artifactURL string) (int, error) {
	body := struct {
		ArtifactURL string `json:"artifact_url"`
	}{ArtifactURL: artifactURL}
	resp, err := c.postJSON("/api/v1/admin/sessions/"+id+"/reload", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// --- Allocation endpoints ---

// ListAllocations calls GET /api/v1/admin/allocations with optional query params.
func (c *Client) ListAllocations(params string) (*AdminAllocationList, int, error) {
	path := "/api/v1/admin/allocations"
	if params != "" {
		path += "?" + params
	}
	resp, err := c.get(path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var result AdminAllocationList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// --- Quota endpoints ---

// GetQuota calls GET /api/v1/admin/quotas/{userId}.
func (c *Client) GetQuota(userID string) (*AdminQuota, int, error) {
	resp, err := c.get("/api/v1/admin/quotas/" + userID)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result AdminQuota
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// PutQuota calls PUT /api/v1/admin/quotas/{userId}.
func (c *Client) PutQuota(userID string, req QuotaPutRequest) (*AdminQuota, int, error) {
	resp, err := c.putJSON("/api/v1/admin/quotas/"+userID, req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, nil
	}
	var result AdminQuota
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// --- Cost endpoints ---

// ListCosts calls GET /api/v1/admin/costs with optional query params.
func (c *Client) ListCosts(params string) (*AdminCostList, int, error) {
	path := "/api/v1/admin/costs"
	if params != "" {
		path += "?" + params
	}
	resp, err := c.get(path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	var result AdminCostList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

// --- Raw helpers ---

// RawGet performs a raw GET and returns status code and response body bytes.
func (c *Client) RawGet(path string) (int, []byte, error) {
	resp, err := c.get(path)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// RawPost performs a raw POST with JSON body and returns status code.
func (c *Client) RawPost(path string, body any) (int, error) {
	resp, err := c.postJSON(path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// RawPut performs a raw PUT with JSON body and returns status code.
func (c *Client) RawPut(path string, body any) (int, error) {
	resp, err := c.putJSON(path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
