package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerHandle_AppendsLine(t *testing.T) {
	dir := t.TempDir()
	c := NewConsumer("amqp://unused", dir, zerolog.Nop())
	ev := SeatsBookedEvent{
		SessionID: "cs_1", EventID: "evt_1", TotalSeats: 3, ReconciledAt: "2026-06-01T10:00:00Z",
		Slots: []SlotBooking{
			{OfferingID: "prod_a", Slot: "morning", Seats: 2, BookedSeats: 9, MaxSeats: 10},
			{OfferingID: "prod_b", Slot: "afternoon", Seats: 1, BookedSeats: 4},
		},
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, c.Handle(body))
	require.NoError(t, c.Handle(body))

	data, err := os.ReadFile(filepath.Join(dir, "booking.log"))
	require.NoError(t, err)
	line := "[2026-06-01T10:00:00Z] Seats booked | session_id=cs_1 | event_id=evt_1 | seats=3 | slots=[prod_a/morning+2(9/10),prod_b/afternoon+1(unlimited)]\n"
	assert.Equal(t, line+line, string(data))
}

func TestConsumerHandle_RejectsGarbage(t *testing.T) {
	c := NewConsumer("amqp://unused", t.TempDir(), zerolog.Nop())
	assert.Error(t, c.Handle([]byte("{not json")))
}
