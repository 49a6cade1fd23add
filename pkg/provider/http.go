package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tapforge/preview-pool/pkg/fault"
)

const (
	defaultTimeout = 15 * time.Second

	// maxErrorBody caps how much of an error response is read for messages.
	maxErrorBody = 4 * 1024
)

// Config configures the HTTP provider adapter.
type Config struct {
	// BaseURL is the provider API root, e.g. https://sessions.example.com.
	BaseURL string

	// PublicBaseURL is the root for consumer-facing session URLs. Defaults
	// to BaseURL.
	PublicBaseURL string

	// Token is the bearer token sent on every request.
	Token string

	// Timeout bounds each provider call.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64

	// Burst is the throttle burst size. Defaults to 1 when throttling is on.
	Burst int

	// Observer receives per-call outcomes. Optional.
	Observer CallObserver
}

// HTTPAdapter talks to the provider's REST API.
type HTTPAdapter struct {
	baseURL       string
	publicBaseURL string
	token         string
	timeout       time.Duration
	client        *http.Client
	limiter       *rate.Limiter
	observer      CallObserver
}

// NewHTTP creates an HTTP adapter for the provider API.
func NewHTTP(cfg Config) (*HTTPAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPAdapter{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		token:         cfg.Token,
		timeout:       cfg.Timeout,
		client:        &http.Client{Timeout: cfg.Timeout},
		limiter:       limiter,
		observer:      cfg.Observer,
	}, nil
}

type createSessionRequest struct {
	Platform   string `json:"platform"`
	DeviceType string `json:"device_type"`
}

type reloadSessionRequest struct {
	ArtifactURL string `json:"artifact_url"`
}

type sessionStatusResponse struct {
	Status string `json:"status"`
}

// CreateSession provisions a session via POST /v1/sessions.
func (a *HTTPAdapter) CreateSession(ctx context.Context, platform, deviceType string) (*Session, error) {
	const op = "create"

	var sess Session
	err := a.observe(op, func() error {
		resp, err := a.do(ctx, http.MethodPost, "/v1/sessions", createSessionRequest{
			Platform:   platform,
			DeviceType: deviceType,
		})
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return a.statusError(op, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			return fault.Providerf(op, err, "parsing create response")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, fault.Providerf(op, nil, "provider returned session without id")
	}
	return &sess, nil
}

// DeleteSession tears down a session via DELETE /v1/sessions/{id}.
// A 404 means the session is already gone and is treated as success.
func (a *HTTPAdapter) DeleteSession(ctx context.Context, providerSessionID string) error {
	const op = "delete"

	return a.observe(op, func() error {
		resp, err := a.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(providerSessionID), nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
			return nil
		default:
			return a.statusError(op, resp)
		}
	})
}

// ReloadSession swaps the running artifact via POST /v1/sessions/{id}/reload.
func (a *HTTPAdapter) ReloadSession(ctx context.Context, providerSessionID, artifactURL string) error {
	const op = "reload"

	return a.observe(op, func() error {
		path := "/v1/sessions/" + url.PathEscape(providerSessionID) + "/reload"
		resp, err := a.do(ctx, http.MethodPost, path, reloadSessionRequest{ArtifactURL: artifactURL})
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return a.statusError(op, resp)
		}
		return nil
	})
}

// SessionStatus probes a session via GET /v1/sessions/{id}/status. A 404
// reports StatusUnreachable rather than an error.
func (a *HTTPAdapter) SessionStatus(ctx context.Context, providerSessionID string) (Status, error) {
	const op = "status"

	status := StatusUnreachable
	err := a.observe(op, func() error {
		path := "/v1/sessions/" + url.PathEscape(providerSessionID) + "/status"
		resp, err := a.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return a.statusError(op, resp)
		}

		var body sessionStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fault.Providerf(op, err, "parsing status response")
		}
		if body.Status == string(StatusOK) {
			status = StatusOK
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// SessionURL builds the consumer-facing URL for a public handle.
func (a *HTTPAdapter) SessionURL(publicHandle string) string {
	return a.publicBaseURL + "/s/" + url.PathEscape(publicHandle)
}

// do sends one request with auth, throttling, and the per-call deadline.
func (a *HTTPAdapter) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fault.Providerf("throttle", err, "waiting for provider rate limit")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating provider request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fault.Providerf(strings.ToLower(method), err, "calling provider")
	}
	return resp, nil
}

// statusError converts a non-success response into a provider fault,
// carrying a snippet of the body for diagnostics.
func (a *HTTPAdapter) statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fault.Providerf(op, nil, "provider returned %d: %s", resp.StatusCode, msg)
}

// observe wraps a call with timing for the observer.
func (a *HTTPAdapter) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	if a.observer != nil {
		a.observer.ObserveCall(op, time.Since(start), err)
	}
	return err
}

// Verify interface compliance.
var _ Adapter = (*HTTPAdapter)(nil)
