//go:build integration

package helpers

import (
	"testing"
)

// AssertAllocated asserts a successful allocate response and returns the
// session instance ID.
func AssertAllocated(t *testing.T, resp *DispatchResponse, status int) string {
	t.Helper()

	if status != 200 {
		t.Fatalf("expected status 200, got %d (error: %+v)", status, resp.Error)
	}
	if !resp.Success {
		t.Fatalf("expected success=true, got error: %+v", resp.Error)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session ID in allocate response")
	}
	if resp.SessionURL == "" {
		t.Fatal("expected a session URL in allocate response")
	}
	return resp.SessionID
}

// AssertReleased asserts a successful release response.
func AssertReleased(t *testing.T, resp *DispatchResponse, status int) {
	t.Helper()

	if status != 200 {
		t.Fatalf("expected status 200, got %d (error: %+v)", status, resp.Error)
	}
	if !resp.Success {
		t.Fatalf("expected success=true, got error: %+v", resp.Error)
	}
}

// AssertDispatchError asserts a failed dispatch with the given status and
// wire error code.
func AssertDispatchError(t *testing.T, resp *DispatchResponse, status, wantStatus int, wantCode string) {
	t.Helper()

	if status != wantStatus {
		t.Fatalf("expected status %d, got %d", wantStatus, status)
	}
	if resp.Success {
		t.Fatal("expected success=false")
	}
	if resp.Error == nil {
		t.Fatal("expected a wire error in response")
	}
	if resp.Error.Code != wantCode {
		t.Errorf("expected error code %q, got %q (%s)",
			wantCode, resp.Error.Code, resp.Error.Message)
	}
}

// AssertQuotaExceeded asserts a 429 rejection carrying a retry-after hint.
func AssertQuotaExceeded(t *testing.T, resp *DispatchResponse, status int) {
	t.Helper()

	AssertDispatchError(t, resp, status, 429, "quota_exceeded")
	if resp.Error.RetryAfterSeconds <= 0 {
		t.Errorf("expected a positive retryAfterSeconds, got %d",
			resp.Error.RetryAfterSeconds)
	}
}

// AssertSessionStatus asserts the admin view of an instance reports the
// given lifecycle status.
func AssertSessionStatus(t *testing.T, c *Client, sessionID, want string) {
	t.Helper()

	session, status, err := c.GetSession(sessionID)
	if err != nil {
		t.Fatalf("fetching session %s: %v", sessionID, err)
	}
	if status != 200 {
		t.Fatalf("expected status 200 fetching session, got %d", status)
	}
	if session.Status != want {
		t.Errorf("expected session status %q, got %q", want, session.Status)
	}
}
