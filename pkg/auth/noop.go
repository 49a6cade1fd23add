package auth

import "context"

// NoopAuthenticator accepts any credential, including an empty one. Intended
// for local development only.
type NoopAuthenticator struct{}

// Authenticate implements Authenticator.
func (NoopAuthenticator) Authenticate(context.Context, string) (*Caller, error) {
	return &Caller{ID: "dev", Type: TypeNone, Roles: []string{RoleAdmin, RoleDispatcher}}, nil
}

// Verify interface compliance.
var _ Authenticator = NoopAuthenticator{}
