package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dsamentor/mentor/internal/domain"
)

// EventHandler processes a received event
type EventHandler func(ctx context.Context, event domain.Event)

// Subscriber receives events from the exchange on a private queue
type Subscriber struct {
	conn       *Connection
	handler    EventHandler
	queue      string
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSubscriber creates a subscriber; call Start to begin consuming
func NewSubscriber(conn *Connection, handler EventHandler) *Subscriber {
	return &Subscriber{conn: conn, handler: handler}
}

// Start declares an exclusive queue bound to the exchange and consumes it
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, s.cancelFunc = context.WithCancel(ctx)

	ch := s.conn.Channel()
	if ch == nil {
		return fmt.Errorf("channel not available")
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare subscriber queue: %w", err)
	}
	s.queue = q.Name

	if err := ch.QueueBind(q.Name, "", s.conn.Exchange(), false, nil); err != nil {
		return fmt.Errorf("failed to bind subscriber queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag (auto-generated)
		true,  // auto-ack; events are best-effort
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("subscribed to events", "exchange", s.conn.Exchange(), "queue", q.Name)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Info("event channel closed", "queue", q.Name)
					return
				}
				var event domain.Event
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					slog.Warn("skipping malformed event", "error", err)
					continue
				}
				s.handler(ctx, event)
			}
		}
	}()

	return nil
}

// Queue returns the server-assigned queue name once started
func (s *Subscriber) Queue() string { return s.queue }

// Stop ends consumption and waits for the handler loop to exit
func (s *Subscriber) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
}
