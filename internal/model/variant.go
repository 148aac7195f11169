package model

import (
	"strings"
	"time"
)

// Slot names recognised by the pricing rules.  Any other slot value is
// accepted and sold but never takes part in the full-day discount.
const (
	SlotMorning   = "morning"
	SlotAfternoon = "afternoon"
)

// TierFull is the discount tier of the canonical variant of a slot.  The
// full variant holds the seat counter; every other tier mirrors it.
const TierFull = "full"

// Variant is one sellable (offering, slot, discount tier) combination.
// All variants sharing a SlotKey describe the same physical seats, so their
// MaxSeats/BookedSeats are denormalized copies of one CapacityCounter.
//
// Fields:
//  ID                   – external price identifier.
//  OfferingID           – offering this variant sells.
//  Slot                 – time-of-day slot (morning, afternoon, ...).
//  DiscountTier         – "full" for the canonical price, e.g. "disc10" otherwise.
//  AmountCents          – unit amount in minor currency units.
//  Currency             – ISO currency code, lower case.
//  TimeLabel            – display label for the slot's hours.
//  MaxSeats             – seat limit for the slot; 0 means unlimited.
//  BookedSeats          – seats consumed by confirmed payments.
//  FullDayDiscountCents – per-variant override of the full-day discount (nil = default).
//  Active               – whether the variant is currently sold.
type Variant struct {
	ID                   string    // variants.id
	OfferingID           string    // variants.offering_id
	Slot                 string    // variants.slot
	DiscountTier         string    // variants.discount_tier
	AmountCents          int64     // variants.amount_cents
	Currency             string    // variants.currency
	TimeLabel            string    // variants.time_label
	MaxSeats             int       // variants.max_seats
	BookedSeats          int       // variants.booked_seats
	FullDayDiscountCents *int64    // variants.full_day_discount_cents (nullable)
	Active               bool      // variants.is_active
	UpdatedAt            time.Time // variants.updated_at
}

// SlotKey returns the capacity key of the variant.
func (v Variant) SlotKey() SlotKey {
	return SlotKey{OfferingID: v.OfferingID, Slot: NormalizeSlot(v.Slot)}
}

// IsCanonical reports whether v is the counter holder of its slot.
func (v Variant) IsCanonical() bool {
	return strings.EqualFold(strings.TrimSpace(v.DiscountTier), TierFull)
}

// Counter returns the variant's projection of the slot counter.
func (v Variant) Counter() CapacityCounter {
	return CapacityCounter{MaxSeats: v.MaxSeats, BookedSeats: v.BookedSeats}
}

// NormalizeSlot lower-cases and trims a slot name.
func NormalizeSlot(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SlotKey identifies one physical seat pool: an offering's slot.
type SlotKey struct {
	OfferingID string `json:"offering_id"`
	Slot       string `json:"slot"`
}

// String renders the key the way it is exposed in catalog ids.
func (k SlotKey) String() string { return k.OfferingID + "__" + k.Slot }

// CapacityCounter is the single logical seat counter of a SlotKey.
type CapacityCounter struct {
	MaxSeats    int `json:"max_seats"`    // 0 = unlimited
	BookedSeats int `json:"booked_seats"` // seats consumed by confirmed payments
}

// Limited reports whether the counter enforces a seat limit.
func (c CapacityCounter) Limited() bool { return c.MaxSeats > 0 }

// FreeSeats returns the number of seats still available.  The second result
// is false when the slot is unlimited, in which case the count is meaningless.
func (c CapacityCounter) FreeSeats() (int, bool) {
	if !c.Limited() {
		return 0, false
	}
	free := c.MaxSeats - c.BookedSeats
	if free < 0 {
		free = 0
	}
	return free, true
}
