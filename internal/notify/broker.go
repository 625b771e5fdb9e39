package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// BrokerChannel fans every event out on an AMQP exchange so other services
// (displays, analytics) can follow queue activity.
type BrokerChannel struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewBrokerChannel(url, exchange string) (*BrokerChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &BrokerChannel{conn: conn, ch: ch, exchange: exchange}, nil
}

func (c *BrokerChannel) Name() string {
	return "broker"
}

func (c *BrokerChannel) Recipient(ctx context.Context, event Event) (string, error) {
	return c.exchange, nil
}

func (c *BrokerChannel) Send(ctx context.Context, event Event, recipient string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishes.
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(ctx, c.exchange, event.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.EventID,
		Timestamp:   event.OccurredAt,
		Type:        event.Kind,
		Body:        body,
	})
}

func (c *BrokerChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
