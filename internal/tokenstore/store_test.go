package tokenstore

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadAllEmpty(t *testing.T) {
	s := openTestStore(t)
	creds, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("LoadAll on empty store: %d credentials, want 0", len(creds))
	}
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, "a@example.com", "tok-1", "refresh-1", 100); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}

	cred, err := s.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cred == nil || cred.AccessToken != "tok-1" || cred.RefreshToken != "refresh-1" || cred.ExpiresAt != 100 {
		t.Fatalf("Get after insert: %+v", cred)
	}

	// Second upsert for the same email replaces, last write wins.
	if err := s.Upsert(ctx, "a@example.com", "tok-2", "refresh-2", 200); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	cred, err = s.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cred.AccessToken != "tok-2" || cred.ExpiresAt != 200 {
		t.Errorf("Get after update: %+v, want tok-2/200", cred)
	}

	creds, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(creds) != 1 {
		t.Errorf("LoadAll: %d credentials, want 1", len(creds))
	}
}

func TestGetUnknownEmail(t *testing.T) {
	s := openTestStore(t)
	cred, err := s.Get(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cred != nil {
		t.Errorf("Get unknown email: %+v, want nil", cred)
	}
}

func TestCredentialExpired(t *testing.T) {
	now := time.Unix(1000, 0)

	cases := []struct {
		name      string
		expiresAt int64
		want      bool
	}{
		{"future expiry", 2000, false},
		{"exactly now", 1000, true},
		{"past expiry", 500, true},
	}
	for _, c := range cases {
		cred := Credential{ExpiresAt: c.expiresAt}
		if got := cred.Expired(now); got != c.want {
			t.Errorf("%s: Expired = %v, want %v", c.name, got, c.want)
		}
	}
}
