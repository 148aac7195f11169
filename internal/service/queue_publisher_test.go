package queue_publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	q "github.com/iliyamo/camp-seat-checkout/internal/queue"
)

type fakeChannel struct {
	declared   []string
	durable    bool
	exchange   string
	key        string
	published  []amqp.Publishing
	publishErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	f.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	return f.publishErr
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func newTestPublisher(ch *fakeChannel, connClosed *bool) *Publisher {
	p := New("amqp://unused", zerolog.Nop())
	p.open = func(string) (channel, func(), error) {
		return ch, func() { *connClosed = true }, nil
	}
	p.now = func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*3600)) }
	return p
}

func TestPublishSeatsBooked(t *testing.T) {
	ch := &fakeChannel{}
	var connClosed bool
	p := newTestPublisher(ch, &connClosed)

	ev := q.SeatsBookedEvent{
		SessionID: "cs_1", EventID: "evt_1", TotalSeats: 2, ReconciledAt: "2026-06-01T08:00:00Z",
		Slots: []q.SlotBooking{{OfferingID: "prod_a", Slot: "morning", Seats: 2, BookedSeats: 9, MaxSeats: 10}},
	}
	require.NoError(t, p.PublishSeatsBooked(context.Background(), ev))

	assert.Equal(t, []string{q.BookingQueue}, ch.declared)
	assert.True(t, ch.durable)
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, q.BookingQueue, ch.key)
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "cs_1:evt_1", msg.MessageId)
	assert.Equal(t, time.UTC, msg.Timestamp.Location())

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "cs_1", got["session_id"])
	assert.Equal(t, "evt_1", got["event_id"])
	assert.Equal(t, float64(2), got["total_seats"])
	slot := got["slots"].([]any)[0].(map[string]any)
	assert.Equal(t, "prod_a", slot["offering_id"])
	assert.Equal(t, float64(9), slot["booked_seats"])

	assert.True(t, ch.closed)
	assert.True(t, connClosed)
}

func TestPublishSeatsBooked_Errors(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	var connClosed bool
	p := newTestPublisher(ch, &connClosed)
	assert.Error(t, p.PublishSeatsBooked(context.Background(), q.SeatsBookedEvent{SessionID: "cs_1"}))
	assert.True(t, connClosed)

	p.open = func(string) (channel, func(), error) { return nil, nil, errors.New("connection refused") }
	assert.Error(t, p.PublishSeatsBooked(context.Background(), q.SeatsBookedEvent{SessionID: "cs_1"}))
}
