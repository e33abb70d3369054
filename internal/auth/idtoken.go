package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// IDTokenVerifier validates Google ID tokens against Google's published JWKS.
// Keys are cached and refreshed in the background so verification stays off
// the network on the hot path.
type IDTokenVerifier struct {
	clientID    string
	jwksURL     string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	refreshTTL  time.Duration
}

func NewIDTokenVerifier(clientID string) (*IDTokenVerifier, error) {
	v := &IDTokenVerifier{
		clientID:   clientID,
		jwksURL:    googleJWKSURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(v.jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	v.cache = cache

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keySet, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}
	v.keySet = keySet

	go v.backgroundRefresh()

	return v, nil
}

func (v *IDTokenVerifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *IDTokenVerifier) backgroundRefresh() {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()

		if err == nil {
			v.keySetMutex.Lock()
			v.keySet = keySet
			v.keySetMutex.Unlock()
		}
		// retry on the next tick
	}
}

func (v *IDTokenVerifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// VerifyEmail validates the raw ID token and returns the mailbox address it
// asserts. The token must be signed by Google, unexpired, and issued for our
// client ID.
func (v *IDTokenVerifier) VerifyEmail(rawToken string) (string, error) {
	token, err := jwt.Parse([]byte(rawToken),
		jwt.WithKeySet(v.getKeySet()),
		jwt.WithValidate(true),
		jwt.WithAudience(v.clientID),
	)
	if err != nil {
		return "", fmt.Errorf("failed to verify id token: %w", err)
	}

	issuer := token.Issuer()
	if issuer != "https://accounts.google.com" && issuer != "accounts.google.com" {
		return "", fmt.Errorf("unexpected id token issuer %q", issuer)
	}

	emailClaim, ok := token.Get("email")
	if !ok {
		return "", fmt.Errorf("id token missing email claim")
	}
	email, _ := emailClaim.(string)
	if email == "" {
		return "", fmt.Errorf("id token email claim is empty")
	}
	return email, nil
}
