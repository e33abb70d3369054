package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mailpilot/mailpilot/internal/outbox"
)

const streamName = "MAIL_EVENTS"

// Publisher emits mail lifecycle events to NATS JetStream so downstream
// consumers (drafting workflow, audit) can react without polling the store.
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream creates the MAIL_EVENTS stream if it does not exist yet.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	streamInfo, err := p.js.StreamInfo(streamName)
	if err == nil && streamInfo != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"mail.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EmailScheduled publishes a mail.scheduled event for a newly accepted email.
func (p *Publisher) EmailScheduled(e outbox.ScheduledEmail) error {
	return p.publish("mail.scheduled", "email.scheduled", e)
}

// EmailSent publishes a mail.sent event after a successful delivery. The
// message id dedupes replays of the same item.
func (p *Publisher) EmailSent(e outbox.ScheduledEmail) error {
	return p.publish("mail.sent", "email.sent", e)
}

func (p *Publisher) publish(subject, eventType string, e outbox.ScheduledEmail) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event_id":       uuid.NewString(),
		"ts":             time.Now().Unix(),
		"type":           eventType,
		"email_id":       e.ID,
		"owner":          e.From,
		"recipient":      e.To,
		"subject":        e.Subject,
		"scheduled_time": e.ScheduledTime.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msgID := fmt.Sprintf("%s|%s|%d", eventType, e.From, e.ID)
	if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
