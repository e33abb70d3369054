// Package smtp sends mail over SMTP with XOAUTH2 bearer authentication,
// the wire path Gmail exposes at smtp.gmail.com:587.
package smtp

import (
	"bytes"
	"context"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailpilot/mailpilot/internal/providers/mimemsg"
)

// Sender dials Addr with STARTTLS for every message. One blocking
// connection per send, no pooling.
type Sender struct {
	Addr string
}

func New(addr string) *Sender {
	return &Sender{Addr: addr}
}

func (s *Sender) Send(ctx context.Context, identity, accessToken, to, subject, body string) error {
	raw, err := mimemsg.Build(identity, to, subject, body)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	c, err := smtp.DialStartTLS(s.Addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.Addr, err)
	}
	defer c.Close()

	if err := c.Auth(sasl.NewXoauth2Client(identity, accessToken)); err != nil {
		return fmt.Errorf("XOAUTH2 auth failed for %s: %w", identity, err)
	}

	rcpt := mimemsg.BareAddress(to)
	if err := c.SendMail(identity, []string{rcpt}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", rcpt, err)
	}

	return c.Quit()
}
