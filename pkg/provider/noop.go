package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NoopAdapter fakes a provider in memory. It is used in development mode and
// in tests when no real provider is configured.
type NoopAdapter struct {
	baseURL string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewNoop creates an in-memory provider adapter. Session URLs are rooted at
// baseURL.
func NewNoop(baseURL string) *NoopAdapter {
	if baseURL == "" {
		baseURL = "http://localhost"
	}
	return &NoopAdapter{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		sessions: make(map[string]*Session),
	}
}

// CreateSession fabricates a session with generated identifiers.
func (a *NoopAdapter) CreateSession(_ context.Context, _, _ string) (*Session, error) {
	sess := &Session{
		ID:           uuid.NewString(),
		PublicHandle: uuid.NewString(),
	}

	a.mu.Lock()
	a.sessions[sess.ID] = sess
	a.mu.Unlock()

	return sess, nil
}

// DeleteSession forgets a session. Unknown sessions are already gone.
func (a *NoopAdapter) DeleteSession(_ context.Context, providerSessionID string) error {
	a.mu.Lock()
	delete(a.sessions, providerSessionID)
	a.mu.Unlock()
	return nil
}

// ReloadSession succeeds for known sessions and unknown ones alike.
func (a *NoopAdapter) ReloadSession(_ context.Context, _, _ string) error {
	return nil
}

// SessionStatus reports ok for sessions it remembers.
func (a *NoopAdapter) SessionStatus(_ context.Context, providerSessionID string) (Status, error) {
	a.mu.RLock()
	_, ok := a.sessions[providerSessionID]
	a.mu.RUnlock()

	if !ok {
		return StatusUnreachable, nil
	}
	return StatusOK, nil
}

// SessionURL builds the consumer-facing URL for a public handle.
func (a *NoopAdapter) SessionURL(publicHandle string) string {
	return a.baseURL + "/s/" + publicHandle
}

// Verify interface compliance.
var _ Adapter = (*NoopAdapter)(nil)
