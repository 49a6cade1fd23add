package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestServiceTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "preview-pool", time.Hour)
	token, err := issuer.Issue("scheduler", []string{RoleDispatcher})
	require.NoError(t, err)

	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{Secret: testSecret})
	caller, err := authn.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "scheduler", caller.ID)
	assert.Equal(t, TypeService, caller.Type)
	assert.Equal(t, []string{RoleDispatcher}, caller.Roles)
}

func TestServiceTokenWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("another-secret-entirely-32-bytes"), "preview-pool", time.Hour)
	token, err := issuer.Issue("scheduler", nil)
	require.NoError(t, err)

	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{Secret: testSecret})
	caller, err := authn.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Nil(t, caller)
}

func TestServiceTokenExpired(t *testing.T) {
	claims := ServiceClaims{
		ServiceID: "scheduler",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{Secret: testSecret})
	_, err = authn.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing service token")
}

func TestServiceTokenMissingServiceID(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "scheduler",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{Secret: testSecret})
	_, err = authn.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service_id")
}

func TestServiceTokenAllowlist(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "preview-pool", time.Hour)
	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{
		Secret:          testSecret,
		AllowedServices: []string{"scheduler"},
	})

	allowed, err := issuer.Issue("scheduler", nil)
	require.NoError(t, err)
	_, err = authn.Authenticate(context.Background(), allowed)
	require.NoError(t, err)

	denied, err := issuer.Issue("rogue", nil)
	require.NoError(t, err)
	_, err = authn.Authenticate(context.Background(), denied)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestServiceTokenCached(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "preview-pool", time.Hour)
	token, err := issuer.Issue("scheduler", nil)
	require.NoError(t, err)

	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{Secret: testSecret})
	first, err := authn.Authenticate(context.Background(), token)
	require.NoError(t, err)

	second, err := authn.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestServiceTokenGarbage(t *testing.T) {
	authn := NewServiceTokenAuthenticator(ServiceTokenConfig{Secret: testSecret})

	for _, token := range []string{"", ".", "..", "a.b.c", "not a token"} {
		_, err := authn.Authenticate(context.Background(), token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestTokenIssuerDefaultsTTL(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "preview-pool", 0)
	token, err := issuer.Issue("scheduler", nil)
	require.NoError(t, err)

	claims := &ServiceClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return testSecret, nil
	})
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenIssuerRequiresServiceID(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "preview-pool", time.Hour)
	_, err := issuer.Issue("", nil)
	require.Error(t, err)
}
