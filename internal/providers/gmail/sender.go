// Package gmail sends mail through the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailpilot/mailpilot/internal/providers/mimemsg"
)

// Sender delivers mail via users.messages.send with a per-call bearer token.
type Sender struct{}

func New() *Sender {
	return &Sender{}
}

func (s *Sender) Send(ctx context.Context, identity, accessToken, to, subject, body string) error {
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return fmt.Errorf("failed to create Gmail service: %w", err)
	}

	raw, err := mimemsg.Build(identity, to, subject, body)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	if _, err := svc.Users.Messages.Send("me", msg).Do(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
