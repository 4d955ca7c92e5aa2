// Package events publishes committed booking events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeKind       = "topic"
	contentTypeJSON    = "application/json"
	DefaultExchange    = "classbook.bookings"
	headerEventVersion = "event_version"
	eventVersion       = "1"
)

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends booking events to a topic exchange keyed by event type.
type Publisher struct {
	mutex    sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// Dial connects to RabbitMQ and declares a durable topic exchange.
func Dial(url string, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func newPublisher(ch channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// PublishBookingEvent implements booking.EventPublisher. Channels are not safe for
// concurrent publishing, so calls are serialized.
func (publisher *Publisher) PublishBookingEvent(ctx context.Context, event booking.BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type, err)
	}
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	err = publisher.ch.PublishWithContext(ctx, publisher.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{headerEventVersion: eventVersion},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (publisher *Publisher) Close() error {
	if publisher.ch != nil {
		_ = publisher.ch.Close()
	}
	if publisher.conn != nil {
		return publisher.conn.Close()
	}
	return nil
}
