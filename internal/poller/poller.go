package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mailpilot/mailpilot/internal/dispatch"
	"github.com/mailpilot/mailpilot/internal/tokenstore"
)

// TokenSource lists the identities to process each cycle.
type TokenSource interface {
	LoadAll(ctx context.Context) ([]tokenstore.Credential, error)
}

// TokenRefresher trades an expired credential for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, cred tokenstore.Credential) (string, int64, error)
}

// MailDispatcher sends the due emails owned by one identity.
type MailDispatcher interface {
	DispatchDueFor(ctx context.Context, owner, accessToken string) (dispatch.Result, error)
}

// Poller walks every known identity on a fixed interval: refresh the token
// if it has expired, then dispatch that identity's due emails. Failures are
// isolated per identity; the poller itself keeps no state across cycles.
type Poller struct {
	Tokens     TokenSource
	Refresher  TokenRefresher
	Dispatcher MailDispatcher
	Interval   time.Duration

	stopChan chan struct{}
}

func New(tokens TokenSource, refresher TokenRefresher, dispatcher MailDispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		Tokens:     tokens,
		Refresher:  refresher,
		Dispatcher: dispatcher,
		Interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the polling loop in the background. The first cycle runs
// immediately; Stop or ctx cancellation ends the loop.
func (p *Poller) Start(ctx context.Context) {
	log.Printf("[scheduler] started (interval: %s)", p.Interval)

	go func() {
		p.RunCycle(ctx)

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.RunCycle(ctx)
			case <-p.stopChan:
				log.Printf("[scheduler] stopped")
				return
			case <-ctx.Done():
				log.Printf("[scheduler] stopped: %v", ctx.Err())
				return
			}
		}
	}()
}

// Stop ends the polling loop.
func (p *Poller) Stop() {
	close(p.stopChan)
}

// RunCycle processes every identity once. One identity's refresh or dispatch
// failure never skips the rest.
func (p *Poller) RunCycle(ctx context.Context) {
	creds, err := p.Tokens.LoadAll(ctx)
	if err != nil {
		log.Printf("[scheduler] failed to load identities: %v", err)
		return
	}

	for _, cred := range creds {
		if _, err := p.processIdentity(ctx, cred); err != nil {
			log.Printf("[scheduler] %s: %v", cred.Email, err)
		}
	}
}

// Flush dispatches due emails immediately, outside the interval wait. An
// empty email flushes every identity. It returns one human-readable status
// line per identity.
func (p *Poller) Flush(ctx context.Context, email string) ([]string, error) {
	creds, err := p.Tokens.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no authenticated accounts found")
	}

	if email != "" {
		var match *tokenstore.Credential
		for i := range creds {
			if creds[i].Email == email {
				match = &creds[i]
				break
			}
		}
		if match == nil {
			return nil, fmt.Errorf("no authenticated account for %s", email)
		}
		creds = []tokenstore.Credential{*match}
	}

	var statuses []string
	for _, cred := range creds {
		res, err := p.processIdentity(ctx, cred)
		if err != nil {
			statuses = append(statuses, fmt.Sprintf("%s: %v", cred.Email, err))
			continue
		}
		if res.Sent == 0 && res.Failed == 0 {
			statuses = append(statuses, fmt.Sprintf("%s: no due emails", cred.Email))
			continue
		}
		statuses = append(statuses, fmt.Sprintf("%s: sent %d, failed %d", cred.Email, res.Sent, res.Failed))
		statuses = append(statuses, res.Messages...)
	}
	return statuses, nil
}

func (p *Poller) processIdentity(ctx context.Context, cred tokenstore.Credential) (dispatch.Result, error) {
	accessToken := cred.AccessToken
	if cred.Expired(time.Now()) {
		log.Printf("[scheduler] refreshing token for %s", cred.Email)
		refreshed, _, err := p.Refresher.Refresh(ctx, cred)
		if err != nil {
			return dispatch.Result{}, fmt.Errorf("token refresh failed: %w", err)
		}
		accessToken = refreshed
	}

	res, err := p.Dispatcher.DispatchDueFor(ctx, cred.Email, accessToken)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("dispatch failed: %w", err)
	}
	return res, nil
}
