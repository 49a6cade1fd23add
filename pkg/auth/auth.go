// Package auth verifies caller credentials for the dispatcher and admin API.
//
// Two credential shapes are accepted: operator API keys, stored as bcrypt
// hashes in configuration, and HS256 service tokens minted for machine
// callers such as the scheduler trigger or the app backend. Authenticators
// implement a common interface so the HTTP layer can try them in order.
package auth

import (
	"context"
	"errors"
)

// Caller credential types.
const (
	TypeAPIKey  = "api_key"
	TypeService = "service"
	TypeNone    = "none"
)

// Well-known roles.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
)

// Caller is the authenticated identity attached to a request.
type Caller struct {
	// ID is the key name for API keys or the service ID for service tokens.
	ID string `json:"id"`
	// Type records which credential shape authenticated the caller.
	Type string `json:"type"`
	// Roles granted to the caller.
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the caller carries the given role.
func (c *Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator verifies a presented credential.
type Authenticator interface {
	// Authenticate verifies the credential and returns the caller it
	// identifies, or an error when the credential is missing, malformed,
	// expired, or unknown.
	Authenticate(ctx context.Context, credential string) (*Caller, error)
}

// Chain tries authenticators in order; the first success wins. A credential
// rejected by every authenticator yields the joined errors.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(ctx context.Context, credential string) (*Caller, error) {
	if len(c) == 0 {
		return nil, errors.New("no authenticators configured")
	}
	var errs []error
	for _, a := range c {
		caller, err := a.Authenticate(ctx, credential)
		if err == nil {
			return caller, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Verify interface compliance.
var _ Authenticator = (Chain)(nil)
