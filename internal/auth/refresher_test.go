package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mailpilot/mailpilot/internal/tokenstore"
)

type fakeSaver struct {
	email        string
	accessToken  string
	refreshToken string
	expiresAt    int64
	calls        int
}

func (f *fakeSaver) Upsert(ctx context.Context, email, accessToken, refreshToken string, expiresAt int64) error {
	f.email = email
	f.accessToken = accessToken
	f.refreshToken = refreshToken
	f.expiresAt = expiresAt
	f.calls++
	return nil
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	saver := &fakeSaver{}
	r := NewRefresherWithEndpoint("http://unreachable.invalid", "id", "secret", saver)

	cred := tokenstore.Credential{
		Email:       "a@example.com",
		AccessToken: "stale-token",
		ExpiresAt:   42,
	}
	token, expiresAt, err := r.Refresh(context.Background(), cred)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "stale-token" || expiresAt != 42 {
		t.Errorf("Refresh = (%q, %d), want stored values unchanged", token, expiresAt)
	}
	if saver.calls != 0 {
		t.Errorf("saver called %d times, want 0", saver.calls)
	}
}

func TestRefreshExchangesAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := req.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := req.PostForm.Get("refresh_token"); got != "refresh-1" {
			t.Errorf("refresh_token = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
			"expires_in":   120,
		})
	}))
	defer srv.Close()

	saver := &fakeSaver{}
	r := NewRefresherWithEndpoint(srv.URL, "id", "secret", saver)

	before := time.Now().Unix()
	token, expiresAt, err := r.Refresh(context.Background(), tokenstore.Credential{
		Email:        "a@example.com",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", token)
	}
	if expiresAt < before+120 || expiresAt > time.Now().Unix()+120 {
		t.Errorf("expiresAt = %d, want roughly now+120", expiresAt)
	}

	if saver.calls != 1 {
		t.Fatalf("saver called %d times, want 1", saver.calls)
	}
	if saver.email != "a@example.com" || saver.accessToken != "fresh-token" || saver.refreshToken != "refresh-1" {
		t.Errorf("saver got (%q, %q, %q)", saver.email, saver.accessToken, saver.refreshToken)
	}
}

func TestRefreshDefaultsLifetime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
		})
	}))
	defer srv.Close()

	saver := &fakeSaver{}
	r := NewRefresherWithEndpoint(srv.URL, "id", "secret", saver)

	before := time.Now().Unix()
	_, expiresAt, err := r.Refresh(context.Background(), tokenstore.Credential{
		Email:        "a@example.com",
		RefreshToken: "refresh-1",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if expiresAt < before+defaultTokenLifetime || expiresAt > time.Now().Unix()+defaultTokenLifetime {
		t.Errorf("expiresAt = %d, want roughly now+%d", expiresAt, defaultTokenLifetime)
	}
}

func TestRefreshEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	saver := &fakeSaver{}
	r := NewRefresherWithEndpoint(srv.URL, "id", "secret", saver)

	_, _, err := r.Refresh(context.Background(), tokenstore.Credential{
		Email:        "a@example.com",
		RefreshToken: "revoked",
	})
	if err == nil {
		t.Fatal("Refresh: want error on 400 response")
	}
	if saver.calls != 0 {
		t.Errorf("saver called %d times on failure, want 0", saver.calls)
	}
}
