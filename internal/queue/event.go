// Package queue defines message payloads exchanged over the message broker.
package queue

// SeatsBookedEvent is published after a paid checkout session has been
// reconciled into the seat counters.  It carries enough information for
// downstream consumers to log or notify without querying the database.
type SeatsBookedEvent struct {
	SessionID    string        `json:"session_id"`
	EventID      string        `json:"event_id"`
	Slots        []SlotBooking `json:"slots"`
	TotalSeats   int           `json:"total_seats"`
	ReconciledAt string        `json:"reconciled_at"`
}

// SlotBooking is the increment applied to one slot and the counter after it.
type SlotBooking struct {
	OfferingID  string `json:"offering_id"`
	Slot        string `json:"slot"`
	Seats       int    `json:"seats"`
	BookedSeats int    `json:"booked_seats"`
	MaxSeats    int    `json:"max_seats"`
}
