// Package queue_publisher publishes domain events to RabbitMQ.  Errors are
// logged and returned so callers can ignore failures without interrupting
// the main request flow.
package queue_publisher

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	q "github.com/iliyamo/camp-seat-checkout/internal/queue"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher dials the broker per publish.  Bookings are rare enough that a
// long-lived connection is not worth its reconnect handling.
type Publisher struct {
	url  string
	log  zerolog.Logger
	open func(url string) (channel, func(), error)
	now  func() time.Time
}

// New returns a Publisher for the broker at url.
func New(url string, log zerolog.Logger) *Publisher {
	return &Publisher{url: url, log: log, open: dial, now: time.Now}
}

// dial opens a connection and a channel on it.  The returned func closes
// the connection.
func dial(url string) (channel, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, func() { _ = conn.Close() }, nil
}

// PublishSeatsBooked publishes event to the durable booking.confirmed queue
// as a persistent message.
func (p *Publisher) PublishSeatsBooked(ctx context.Context, event q.SeatsBookedEvent) error {
	ch, closeConn, err := p.open(p.url)
	if err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: connect failed")
		return err
	}
	defer closeConn()
	defer func() { _ = ch.Close() }()

	// Idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		q.BookingQueue, // name
		true,           // durable
		false,          // autoDelete
		false,          // exclusive
		false,          // noWait
		nil,            // args
	); err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		MessageId:    event.SessionID + ":" + event.EventID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",             // default exchange
		q.BookingQueue, // routing key = queue name
		false,          // mandatory
		false,          // immediate
		pub,
	); err != nil {
		p.log.Warn().Err(err).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}
