// Package capacity decides whether a cart fits into the seats that remain.
//
// The guard only reads counters.  On its own it is a soft limit: two
// concurrent checkouts may both pass for the last seat.  The checkout
// builder closes that gap by placing a seat hold (see repository.HoldStore)
// right after the guard accepts.
package capacity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// Code is the error code reported for an over-capacity cart.
const Code = "CAPACITY_EXCEEDED"

// Demand is the number of seats a cart asks for in one slot.
type Demand struct {
	Key   model.SlotKey
	Seats int
}

// ReservationRequest aggregates a cart into one demand per SlotKey, in order
// of first appearance in the cart.
type ReservationRequest struct {
	Demands []Demand
}

// NewReservationRequest derives the request from a cart.  Each line's slot
// key comes from its canonical variant in full, never from client input.
func NewReservationRequest(cart model.Cart, full map[string]model.Variant) (ReservationRequest, error) {
	idx := make(map[model.SlotKey]int)
	var req ReservationRequest
	for i, line := range cart.Lines {
		v, ok := full[line.Variants.FullPriceID]
		if !ok {
			return ReservationRequest{}, fmt.Errorf("line %d: no variant %q", i, line.Variants.FullPriceID)
		}
		key := v.SlotKey()
		j, seen := idx[key]
		if !seen {
			j = len(req.Demands)
			idx[key] = j
			req.Demands = append(req.Demands, Demand{Key: key})
		}
		req.Demands[j].Seats++
	}
	return req, nil
}

// Keys returns the slot keys of the request.
func (r ReservationRequest) Keys() []model.SlotKey {
	out := make([]model.SlotKey, 0, len(r.Demands))
	for _, d := range r.Demands {
		out = append(out, d.Key)
	}
	return out
}

// Shortfall names one slot that cannot take its demand.
type Shortfall struct {
	OfferingID string `json:"offeringId"`
	Slot       string `json:"slot"`
	Requested  int    `json:"requested"`
	Free       int    `json:"free"`
}

// Error is returned when at least one slot lacks seats.  The whole cart is
// rejected, not just the offending lines.
type Error struct {
	Shortfalls []Shortfall
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s/%s requested %d free %d", s.OfferingID, s.Slot, s.Requested, s.Free))
	}
	return "capacity exceeded: " + strings.Join(parts, "; ")
}

// Code implements the coded error contract used by the HTTP layer.
func (e *Error) Code() string { return Code }

// Guard checks a request against counters.
type Guard struct{}

// NewGuard returns a Guard.
func NewGuard() *Guard { return &Guard{} }

// Check accepts the request or returns *Error.  Slots missing from counters
// or with MaxSeats == 0 are unlimited.
func (g *Guard) Check(req ReservationRequest, counters map[model.SlotKey]model.CapacityCounter) error {
	var short []Shortfall
	for _, d := range req.Demands {
		free, limited := counters[d.Key].FreeSeats()
		if !limited {
			continue
		}
		if d.Seats > free {
			short = append(short, Shortfall{OfferingID: d.Key.OfferingID, Slot: d.Key.Slot, Requested: d.Seats, Free: free})
		}
	}
	if len(short) == 0 {
		return nil
	}
	sort.Slice(short, func(i, j int) bool {
		if short[i].OfferingID != short[j].OfferingID {
			return short[i].OfferingID < short[j].OfferingID
		}
		return short[i].Slot < short[j].Slot
	})
	return &Error{Shortfalls: short}
}
