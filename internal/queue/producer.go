package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/notify"
)

var _ notify.Notifier = (*Publisher)(nil)

// Publisher publishes push notifications to the event exchange
type Publisher struct {
	conn *Connection
}

// NewPublisher creates a new event publisher
func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{conn: conn}
}

// Notify publishes one event. Messages are transient; a broker outage drops them.
func (p *Publisher) Notify(ctx context.Context, event domain.Event) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("publish %s: broker not connected", event.Type)
	}

	if err := p.conn.PublishJSON(ctx, event.ID.String(), event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	slog.Debug("published event",
		"event_id", event.ID,
		"type", event.Type,
		"exchange", p.conn.Exchange(),
	)

	return nil
}
