package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const verifiedKeyCacheMax = 1000

// KeyEntry pairs a key name with its bcrypt hash and granted roles. Only the
// hash lives in configuration; the key material itself is handed to callers
// out of band.
type KeyEntry struct {
	Name  string   `json:"name" yaml:"name"`
	Hash  string   `json:"hash" yaml:"hash"`
	Roles []string `json:"roles" yaml:"roles"`
}

// APIKeyConfig holds API key configuration.
type APIKeyConfig struct {
	Keys []KeyEntry
}

// APIKeyAuthenticator authenticates operator API keys against bcrypt hashes.
// Verified keys are cached so steady-state requests skip the bcrypt
// comparison.
type APIKeyAuthenticator struct {
	keys []KeyEntry

	mu       sync.RWMutex
	verified map[string]*Caller
}

// NewAPIKeyAuthenticator creates an authenticator over the configured keys.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		keys:     cfg.Keys,
		verified: make(map[string]*Caller),
	}
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(_ context.Context, credential string) (*Caller, error) {
	if credential == "" {
		return nil, errors.New("empty api key")
	}

	a.mu.RLock()
	caller := a.verified[credential]
	a.mu.RUnlock()
	if caller != nil {
		return caller, nil
	}

	for i := range a.keys {
		entry := &a.keys[i]
		if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(credential)) != nil {
			continue
		}
		caller = &Caller{ID: entry.Name, Type: TypeAPIKey, Roles: entry.Roles}
		a.cacheVerified(credential, caller)
		return caller, nil
	}
	return nil, errors.New("unknown api key")
}

func (a *APIKeyAuthenticator) cacheVerified(credential string, caller *Caller) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.verified) >= verifiedKeyCacheMax {
		a.verified = make(map[string]*Caller)
	}
	a.verified[credential] = caller
}

// HashKey produces a bcrypt hash suitable for KeyEntry.Hash.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty api key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
