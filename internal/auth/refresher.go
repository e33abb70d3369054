package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/mailpilot/mailpilot/internal/tokenstore"
)

// defaultTokenLifetime is assumed when the provider omits expires_in.
const defaultTokenLifetime = 3600

// TokenSaver persists a refreshed credential. The token store satisfies it;
// the refresher never reaches back into higher layers.
type TokenSaver interface {
	Upsert(ctx context.Context, email, accessToken, refreshToken string, expiresAt int64) error
}

// Refresher exchanges refresh tokens for fresh access tokens at the OAuth
// provider's token endpoint.
type Refresher struct {
	tokenURL     string
	clientID     string
	clientSecret string
	saver        TokenSaver
	client       *http.Client
}

func NewRefresher(clientID, clientSecret string, saver TokenSaver) *Refresher {
	return &Refresher{
		tokenURL:     google.Endpoint.TokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		saver:        saver,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// NewRefresherWithEndpoint overrides the token endpoint, mainly for tests.
func NewRefresherWithEndpoint(tokenURL, clientID, clientSecret string, saver TokenSaver) *Refresher {
	r := NewRefresher(clientID, clientSecret, saver)
	r.tokenURL = tokenURL
	return r
}

// Refresh returns a usable access token and expiry for cred. A credential
// without a refresh token comes back unchanged; this is best effort, not an
// error. On success the new token is persisted before returning.
func (r *Refresher) Refresh(ctx context.Context, cred tokenstore.Credential) (string, int64, error) {
	if cred.RefreshToken == "" {
		return cred.AccessToken, cred.ExpiresAt, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access token")
	}

	lifetime := result.ExpiresIn
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	expiresAt := time.Now().Unix() + lifetime

	if err := r.saver.Upsert(ctx, cred.Email, result.AccessToken, cred.RefreshToken, expiresAt); err != nil {
		return "", 0, fmt.Errorf("persist refreshed token: %w", err)
	}
	return result.AccessToken, expiresAt, nil
}
