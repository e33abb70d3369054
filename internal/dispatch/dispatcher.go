package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mailpilot/mailpilot/internal/outbox"
)

// Sender delivers one email on behalf of identity using its bearer token.
type Sender interface {
	Send(ctx context.Context, identity, accessToken, to, subject, body string) error
}

// EventSink receives lifecycle notifications. May be nil.
type EventSink interface {
	EmailSent(e outbox.ScheduledEmail) error
}

// Dispatcher sends due emails for one identity at a time. Items owned by
// other identities are skipped, never sent with the wrong credential.
type Dispatcher struct {
	Store  *outbox.Store
	Sender Sender
	Events EventSink

	// SendDelay is slept after each successful send to stay under provider
	// rate limits.
	SendDelay time.Duration
}

// Result summarizes one dispatch pass for an identity.
type Result struct {
	Sent     int
	Failed   int
	Messages []string
}

// DispatchDueFor sends every due email owned by owner, marking each one sent
// on transport success. A failed send is logged and skipped; it stays unsent
// and is retried naturally on the next cycle. The pass runs to completion of
// the due list regardless of individual failures.
func (d *Dispatcher) DispatchDueFor(ctx context.Context, owner, accessToken string) (Result, error) {
	due, err := d.Store.Due(ctx, time.Now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("load due emails: %w", err)
	}

	var res Result
	for _, e := range due {
		if e.From != owner {
			continue
		}

		if err := d.Sender.Send(ctx, owner, accessToken, e.To, e.Subject, e.Body); err != nil {
			log.Printf("[dispatch] send failed for email %d (%s -> %s): %v", e.ID, e.From, e.To, err)
			res.Failed++
			res.Messages = append(res.Messages, fmt.Sprintf("failed to send email %d to %s: %v", e.ID, e.To, err))
			continue
		}

		if err := d.Store.MarkSent(ctx, e.ID); err != nil {
			// The email went out but the flag did not stick; it will be
			// resent next cycle. At-least-once, so log loudly and move on.
			log.Printf("[dispatch] sent email %d but failed to mark it: %v", e.ID, err)
		}
		log.Printf("[dispatch] sent email %d from %s to %s", e.ID, owner, e.To)
		res.Sent++
		res.Messages = append(res.Messages, fmt.Sprintf("sent email %d to %s", e.ID, e.To))

		if d.Events != nil {
			sent := e
			sent.Sent = true
			if err := d.Events.EmailSent(sent); err != nil {
				log.Printf("[dispatch] failed to publish sent event for email %d: %v", e.ID, err)
			}
		}

		if d.SendDelay > 0 {
			time.Sleep(d.SendDelay)
		}
	}
	return res, nil
}
