package poller

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mailpilot/mailpilot/internal/dispatch"
	"github.com/mailpilot/mailpilot/internal/tokenstore"
)

type fakeTokens struct {
	creds []tokenstore.Credential
}

func (f *fakeTokens) LoadAll(ctx context.Context) ([]tokenstore.Credential, error) {
	return f.creds, nil
}

type fakeRefresher struct {
	failFor map[string]bool
	calls   []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred tokenstore.Credential) (string, int64, error) {
	f.calls = append(f.calls, cred.Email)
	if f.failFor[cred.Email] {
		return "", 0, fmt.Errorf("refresh denied")
	}
	return "refreshed-" + cred.Email, time.Now().Unix() + 3600, nil
}

type dispatched struct {
	owner string
	token string
}

type fakeDispatcher struct {
	calls   []dispatched
	results map[string]dispatch.Result
}

func (f *fakeDispatcher) DispatchDueFor(ctx context.Context, owner, accessToken string) (dispatch.Result, error) {
	f.calls = append(f.calls, dispatched{owner, accessToken})
	return f.results[owner], nil
}

func expiredCred(email string) tokenstore.Credential {
	return tokenstore.Credential{
		Email:       email,
		AccessToken: "stale-" + email,
		ExpiresAt:   time.Now().Add(-time.Hour).Unix(),
	}
}

func freshCred(email string) tokenstore.Credential {
	return tokenstore.Credential{
		Email:       email,
		AccessToken: "fresh-" + email,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}
}

func TestRunCycleRefreshesExpiredTokens(t *testing.T) {
	tokens := &fakeTokens{creds: []tokenstore.Credential{
		expiredCred("expired@example.com"),
		freshCred("fresh@example.com"),
	}}
	refresher := &fakeRefresher{}
	dispatcher := &fakeDispatcher{}

	p := New(tokens, refresher, dispatcher, time.Minute)
	p.RunCycle(context.Background())

	if len(refresher.calls) != 1 || refresher.calls[0] != "expired@example.com" {
		t.Errorf("refresh calls = %v, want only the expired identity", refresher.calls)
	}

	if len(dispatcher.calls) != 2 {
		t.Fatalf("%d dispatches, want 2", len(dispatcher.calls))
	}
	byOwner := map[string]string{}
	for _, c := range dispatcher.calls {
		byOwner[c.owner] = c.token
	}
	if byOwner["expired@example.com"] != "refreshed-expired@example.com" {
		t.Errorf("expired identity dispatched with token %q, want the refreshed one", byOwner["expired@example.com"])
	}
	if byOwner["fresh@example.com"] != "fresh-fresh@example.com" {
		t.Errorf("fresh identity dispatched with token %q, want the stored one", byOwner["fresh@example.com"])
	}
}

func TestRunCycleIsolatesRefreshFailures(t *testing.T) {
	tokens := &fakeTokens{creds: []tokenstore.Credential{
		expiredCred("broken@example.com"),
		freshCred("fine@example.com"),
	}}
	refresher := &fakeRefresher{failFor: map[string]bool{"broken@example.com": true}}
	dispatcher := &fakeDispatcher{}

	p := New(tokens, refresher, dispatcher, time.Minute)
	p.RunCycle(context.Background())

	// The broken identity never reaches dispatch, the healthy one still does.
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].owner != "fine@example.com" {
		t.Errorf("dispatches = %v, want only the healthy identity", dispatcher.calls)
	}
}

func TestFlushSingleIdentity(t *testing.T) {
	tokens := &fakeTokens{creds: []tokenstore.Credential{
		freshCred("a@example.com"),
		freshCred("b@example.com"),
	}}
	dispatcher := &fakeDispatcher{results: map[string]dispatch.Result{
		"a@example.com": {Sent: 2, Failed: 1, Messages: []string{"sent email 1 to x", "sent email 2 to y", "failed to send email 3 to z: boom"}},
	}}

	p := New(tokens, &fakeRefresher{}, dispatcher, time.Minute)
	statuses, err := p.Flush(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(dispatcher.calls) != 1 || dispatcher.calls[0].owner != "a@example.com" {
		t.Errorf("dispatches = %v, want only a@example.com", dispatcher.calls)
	}
	if len(statuses) != 4 {
		t.Fatalf("statuses = %v, want summary plus three messages", statuses)
	}
	if statuses[0] != "a@example.com: sent 2, failed 1" {
		t.Errorf("summary = %q", statuses[0])
	}
}

func TestFlushAllIdentities(t *testing.T) {
	tokens := &fakeTokens{creds: []tokenstore.Credential{
		freshCred("a@example.com"),
		freshCred("b@example.com"),
	}}
	dispatcher := &fakeDispatcher{results: map[string]dispatch.Result{}}

	p := New(tokens, &fakeRefresher{}, dispatcher, time.Minute)
	statuses, err := p.Flush(context.Background(), "")
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(dispatcher.calls) != 2 {
		t.Errorf("%d dispatches, want every identity", len(dispatcher.calls))
	}
	if len(statuses) != 2 {
		t.Fatalf("statuses = %v, want one line per identity", statuses)
	}
	for _, s := range statuses {
		if !strings.HasSuffix(s, ": no due emails") {
			t.Errorf("status %q, want a no-due-emails line", s)
		}
	}
}

func TestFlushUnknownIdentity(t *testing.T) {
	tokens := &fakeTokens{creds: []tokenstore.Credential{freshCred("a@example.com")}}
	p := New(tokens, &fakeRefresher{}, &fakeDispatcher{}, time.Minute)

	if _, err := p.Flush(context.Background(), "stranger@example.com"); err == nil {
		t.Fatal("Flush: want error for unknown identity")
	}
}

func TestFlushNoAccounts(t *testing.T) {
	p := New(&fakeTokens{}, &fakeRefresher{}, &fakeDispatcher{}, time.Minute)
	if _, err := p.Flush(context.Background(), ""); err == nil {
		t.Fatal("Flush: want error when no accounts are stored")
	}
}

func TestStartStop(t *testing.T) {
	tokens := &fakeTokens{}
	p := New(tokens, &fakeRefresher{}, &fakeDispatcher{}, time.Hour)

	p.Start(context.Background())
	p.Stop()
}
