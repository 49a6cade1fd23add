package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fastHash hashes at the minimum cost to keep tests quick.
func fastHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAPIKeyAuthenticate(t *testing.T) {
	authn := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []KeyEntry{
		{Name: "ops", Hash: fastHash(t, "sk-ops-secret"), Roles: []string{RoleAdmin}},
		{Name: "backend", Hash: fastHash(t, "sk-backend-secret"), Roles: []string{RoleDispatcher}},
	}})

	caller, err := authn.Authenticate(context.Background(), "sk-backend-secret")
	require.NoError(t, err)
	assert.Equal(t, "backend", caller.ID)
	assert.Equal(t, TypeAPIKey, caller.Type)
	assert.Equal(t, []string{RoleDispatcher}, caller.Roles)
}

func TestAPIKeyAuthenticateUnknownKey(t *testing.T) {
	authn := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []KeyEntry{
		{Name: "ops", Hash: fastHash(t, "sk-ops-secret"), Roles: []string{RoleAdmin}},
	}})

	caller, err := authn.Authenticate(context.Background(), "sk-wrong")
	require.Error(t, err)
	assert.Nil(t, caller)
}

func TestAPIKeyAuthenticateEmpty(t *testing.T) {
	authn := NewAPIKeyAuthenticator(APIKeyConfig{})

	_, err := authn.Authenticate(context.Background(), "")
	require.Error(t, err)
}

func TestAPIKeyCachedVerification(t *testing.T) {
	authn := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []KeyEntry{
		{Name: "ops", Hash: fastHash(t, "sk-ops-secret"), Roles: []string{RoleAdmin}},
	}})

	first, err := authn.Authenticate(context.Background(), "sk-ops-secret")
	require.NoError(t, err)

	// The second call is served from the verified-key cache.
	second, err := authn.Authenticate(context.Background(), "sk-ops-secret")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestHashKeyRoundTrip(t *testing.T) {
	hash, err := HashKey("sk-fresh")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	authn := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []KeyEntry{
		{Name: "fresh", Hash: hash},
	}})
	caller, err := authn.Authenticate(context.Background(), "sk-fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", caller.ID)
}

func TestHashKeyEmpty(t *testing.T) {
	_, err := HashKey("")
	require.Error(t, err)
}
