// Package catalog projects offerings and their variants into the flat list
// the storefront browses: one entry per (offering, slot) that has a priced
// canonical variant.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// Entry is one bookable slot of an offering.
type Entry struct {
	ID            string  `json:"id"`
	ProductID     string  `json:"productId"`
	Title         string  `json:"title"`
	Image         string  `json:"image"`
	AgeLabel      string  `json:"ageLabel"`
	PeriodLabel   string  `json:"periodLabel"`
	Season        string  `json:"season"`
	DisciplineKey string  `json:"disciplineKey"`
	PageRef       string  `json:"pageRef"`
	Slot          string  `json:"slot"`
	TimeLabel     string  `json:"timeLabel"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	FullPriceID   string  `json:"fullPriceId"`
	DiscPriceID   *string `json:"discPriceId"`
	MaxSeats      int     `json:"maxSeats"`
	BookedSeats   int     `json:"bookedSeats"`
	FreeSeats     *int    `json:"freeSeats"`
}

type slotVariants struct {
	full *model.Variant
	disc *model.Variant
}

var slotOrder = map[string]int{model.SlotMorning: 0, model.SlotAfternoon: 1}

// Project builds the catalog.  Seat numbers always come from the canonical
// variant; the paired discount price is the first variant of the slot whose
// tier equals siblingTier.  Inactive records are skipped.
func Project(offerings []model.Offering, variants []model.Variant, siblingTier string) []Entry {
	bySlot := make(map[model.SlotKey]*slotVariants)
	for i := range variants {
		v := &variants[i]
		if !v.Active || model.NormalizeSlot(v.Slot) == "" {
			continue
		}
		k := v.SlotKey()
		sv, ok := bySlot[k]
		if !ok {
			sv = &slotVariants{}
			bySlot[k] = sv
		}
		switch {
		case v.IsCanonical():
			if sv.full == nil {
				sv.full = v
			}
		case strings.EqualFold(strings.TrimSpace(v.DiscountTier), siblingTier):
			if sv.disc == nil {
				sv.disc = v
			}
		}
	}

	slotsOf := make(map[string][]string)
	for k := range bySlot {
		slotsOf[k.OfferingID] = append(slotsOf[k.OfferingID], k.Slot)
	}

	out := make([]Entry, 0, len(bySlot))
	for _, o := range offerings {
		if !o.Active {
			continue
		}
		slots := slotsOf[o.ID]
		sort.Slice(slots, func(i, j int) bool { return slotLess(slots[i], slots[j]) })
		for _, slot := range slots {
			sv := bySlot[model.SlotKey{OfferingID: o.ID, Slot: slot}]
			if sv.full == nil || sv.full.AmountCents <= 0 {
				continue
			}
			out = append(out, newEntry(o, slot, sv))
		}
	}
	return out
}

func newEntry(o model.Offering, slot string, sv *slotVariants) Entry {
	full := sv.full
	e := Entry{
		ID:            model.SlotKey{OfferingID: o.ID, Slot: slot}.String(),
		ProductID:     o.ID,
		Title:         o.Title,
		Image:         o.ImageURL,
		AgeLabel:      o.AgeLabel,
		PeriodLabel:   o.PeriodLabel,
		Season:        o.Season,
		DisciplineKey: o.DisciplineKey,
		PageRef:       o.PageRef,
		Slot:          slot,
		TimeLabel:     full.TimeLabel,
		Amount:        full.AmountCents,
		Currency:      full.Currency,
		FullPriceID:   full.ID,
		MaxSeats:      full.MaxSeats,
		BookedSeats:   full.BookedSeats,
	}
	if sv.disc != nil {
		id := sv.disc.ID
		e.DiscPriceID = &id
	}
	if free, limited := full.Counter().FreeSeats(); limited {
		e.FreeSeats = &free
	}
	return e
}

func slotLess(a, b string) bool {
	ra, oka := slotOrder[a]
	rb, okb := slotOrder[b]
	switch {
	case oka && okb:
		return ra < rb
	case oka != okb:
		return oka
	default:
		return a < b
	}
}

// OfferingLister lists active offerings.
type OfferingLister interface {
	ListActive(ctx context.Context) ([]model.Offering, error)
}

// VariantLister lists active variants.
type VariantLister interface {
	ListActive(ctx context.Context) ([]model.Variant, error)
}

// Service reads the catalog from the store.
type Service struct {
	offerings   OfferingLister
	variants    VariantLister
	siblingTier string
	log         zerolog.Logger
}

// NewService returns a Service.
func NewService(offerings OfferingLister, variants VariantLister, siblingTier string, log zerolog.Logger) *Service {
	return &Service{offerings: offerings, variants: variants, siblingTier: siblingTier, log: log}
}

// List returns the current catalog.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	offerings, err := s.offerings.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	variants, err := s.variants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	entries := Project(offerings, variants, s.siblingTier)
	s.log.Debug().Int("offerings", len(offerings)).Int("entries", len(entries)).Msg("catalog projected")
	return entries, nil
}
