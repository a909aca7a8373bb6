package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// RoutingKeyPrefix is prepended to the event type to form the routing key,
// e.g. "room.peerJoined".
const RoutingKeyPrefix = "room."

// AMQPSink publishes events as JSON to a durable topic exchange.
type AMQPSink struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if exchange == "" {
		return nil, errors.New("amqp exchange must not be empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare amqp exchange %q: %w", exchange, err)
	}
	return &AMQPSink{exchange: exchange, conn: conn, channel: ch}, nil
}

func RoutingKey(e Event) string {
	return RoutingKeyPrefix + string(e.Type)
}

// Publishing builds the AMQP message for e.
func Publishing(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    e.Time,
		Type:         string(e.Type),
		Body:         body,
	}, nil
}

// Send publishes e. The channel is not safe for concurrent publishes so sends
// are serialized.
func (s *AMQPSink) Send(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Publishing(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return errors.New("amqp sink closed")
	}
	return s.channel.Publish(s.exchange, RoutingKey(e), false, false, msg)
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := errors.Join(s.channel.Close(), s.conn.Close())
	s.channel = nil
	s.conn = nil
	return err
}
