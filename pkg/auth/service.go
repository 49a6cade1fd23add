package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL bounds the lifetime of issued service tokens.
	DefaultTokenTTL = time.Hour

	tokenCacheTTL = 5 * time.Minute
	tokenCacheMax = 1000
)

// ServiceClaims are the JWT claims carried by service tokens.
type ServiceClaims struct {
	ServiceID string   `json:"service_id"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints HS256 service tokens for machine callers.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer signing with the shared secret. A
// non-positive ttl falls back to DefaultTokenTTL.
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue signs a token identifying the given service with the given roles.
func (i *TokenIssuer) Issue(serviceID string, roles []string) (string, error) {
	if serviceID == "" {
		return "", errors.New("serviceID is required")
	}
	now := time.Now()
	claims := ServiceClaims{
		ServiceID: serviceID,
		Roles:     roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   serviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing service token: %w", err)
	}
	return signed, nil
}

// ServiceTokenConfig configures service token verification.
type ServiceTokenConfig struct {
	// Secret is the shared HS256 signing secret.
	Secret []byte
	// AllowedServices restricts which service IDs are accepted. Empty means
	// any service signed with the secret.
	AllowedServices []string
}

// ServiceTokenAuthenticator verifies HS256 service tokens. Validated tokens
// are cached briefly so repeated calls from the same client skip signature
// verification.
type ServiceTokenAuthenticator struct {
	secret  []byte
	allowed map[string]bool

	mu    sync.RWMutex
	cache map[string]*cachedToken
}

type cachedToken struct {
	caller    *Caller
	expiresAt time.Time
}

// NewServiceTokenAuthenticator creates an authenticator over the shared
// secret.
func NewServiceTokenAuthenticator(cfg ServiceTokenConfig) *ServiceTokenAuthenticator {
	allowed := make(map[string]bool)
	for _, svc := range cfg.AllowedServices {
		allowed[svc] = true
	}
	return &ServiceTokenAuthenticator{
		secret:  cfg.Secret,
		allowed: allowed,
		cache:   make(map[string]*cachedToken),
	}
}

// Authenticate implements Authenticator.
func (a *ServiceTokenAuthenticator) Authenticate(_ context.Context, credential string) (*Caller, error) {
	if credential == "" {
		return nil, errors.New("empty service token")
	}
	if caller := a.cached(credential); caller != nil {
		return caller, nil
	}

	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing service token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid service token")
	}
	if claims.ServiceID == "" {
		return nil, errors.New("service token missing service_id claim")
	}
	if len(a.allowed) > 0 && !a.allowed[claims.ServiceID] {
		return nil, fmt.Errorf("service %q not authorized", claims.ServiceID)
	}

	caller := &Caller{ID: claims.ServiceID, Type: TypeService, Roles: claims.Roles}
	a.cacheToken(credential, caller, claims)
	return caller, nil
}

func (a *ServiceTokenAuthenticator) cached(credential string) *Caller {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.cache[credential]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.caller
}

// cacheToken stores a validated token until the earlier of the cache TTL and
// the token's own expiry.
func (a *ServiceTokenAuthenticator) cacheToken(credential string, caller *Caller, claims *ServiceClaims) {
	a.mu.Lock()
	defer a.mu.Unlock()

	expiry := time.Now().Add(tokenCacheTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiry) {
		expiry = claims.ExpiresAt.Time
	}
	if len(a.cache) >= tokenCacheMax {
		a.evictExpired()
	}
	a.cache[credential] = &cachedToken{caller: caller, expiresAt: expiry}
}

func (a *ServiceTokenAuthenticator) evictExpired() {
	now := time.Now()
	for key, entry := range a.cache {
		if now.After(entry.expiresAt) {
			delete(a.cache, key)
		}
	}
}

// Verify interface compliance.
var _ Authenticator = (*ServiceTokenAuthenticator)(nil)
