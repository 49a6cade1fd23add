// Package provider integrates with the upstream preview-session provider.
// Adapters expose the minimal surface the pool needs: create, delete, reload,
// and status. Every call is time-bounded and must never run while holding
// storage locks.
package provider

import (
	"context"
	"time"
)

// Session is a provider-side preview session.
type Session struct {
	// ID is the provider's identifier, used for all subsequent calls.
	ID string `json:"id"`

	// PublicHandle is the opaque handle embedded in consumer-facing URLs.
	PublicHandle string `json:"public_handle"`
}

// Status is the provider's view of a session.
type Status string

const (
	// StatusOK means the provider reports the session as running.
	StatusOK Status = "ok"

	// StatusUnreachable means the provider does not know the session or
	// cannot reach it.
	StatusUnreachable Status = "unreachable"
)

// Adapter is the provider integration surface.
type Adapter interface {
	// CreateSession provisions a new preview session for the platform and
	// device type.
	CreateSession(ctx context.Context, platform, deviceType string) (*Session, error)

	// DeleteSession tears down a provider session. Deleting a session the
	// provider no longer knows is success.
	DeleteSession(ctx context.Context, providerSessionID string) error

	// ReloadSession swaps the artifact running in a session without
	// recreating it.
	ReloadSession(ctx context.Context, providerSessionID, artifactURL string) error

	// SessionStatus probes a session. An unknown session reports
	// StatusUnreachable rather than an error.
	SessionStatus(ctx context.Context, providerSessionID string) (Status, error)

	// SessionURL builds the consumer-facing URL for a public handle.
	SessionURL(publicHandle string) string
}

// CallObserver receives the outcome of each provider call. Implementations
// must be safe for concurrent use.
type CallObserver interface {
	ObserveCall(op string, duration time.Duration, err error)
}
