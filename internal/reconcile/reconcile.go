// Package reconcile turns paid checkout sessions into seat counter
// increments.
//
// Line items carry the canonical price they were billed against.  Quantities
// are summed per price, resolved to their slot and summed again, so each
// slot receives one increment per session.  Each slot is applied in its own
// transaction together with a (session, slot) ledger row; replays of the
// same session skip slots already applied.  A failing slot leaves its
// counter untouched and does not stop the others.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/payment"
	"github.com/iliyamo/camp-seat-checkout/internal/queue"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
)

// Slot outcomes.
const (
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// ErrNotPaid is returned when a session has not been paid yet.
var ErrNotPaid = errors.New("checkout session not paid")

// VariantResolver resolves a price id regardless of whether it is still sold.
type VariantResolver interface {
	Lookup(ctx context.Context, id string) (model.Variant, error)
}

// CounterStore applies slot increments idempotently.
type CounterStore interface {
	ApplyIncrement(ctx context.Context, inc repository.SlotIncrement) (model.CapacityCounter, bool, error)
}

// HoldReleaser drops a seat hold.
type HoldReleaser interface {
	Release(ctx context.Context, holdID string) error
}

// EventPublisher announces reconciled bookings.
type EventPublisher interface {
	PublishSeatsBooked(ctx context.Context, ev queue.SeatsBookedEvent) error
}

// SlotOutcome is the result of applying one slot.
type SlotOutcome struct {
	Key     model.SlotKey         `json:"key"`
	Seats   int                   `json:"seats"`
	Status  string                `json:"status"`
	Counter model.CapacityCounter `json:"counter"`
	Error   string                `json:"error,omitempty"`
}

// PriceFailure is a purchased price that could not be resolved to a slot.
type PriceFailure struct {
	PriceID string `json:"price_id"`
	Seats   int    `json:"seats"`
	Error   string `json:"error"`
}

// Report summarises one reconciliation run.
type Report struct {
	SessionID     string         `json:"session_id"`
	EventID       string         `json:"event_id"`
	Slots         []SlotOutcome  `json:"slots"`
	PriceFailures []PriceFailure `json:"price_failures,omitempty"`
	HoldReleased  bool           `json:"hold_released"`
}

// Failed reports whether any price or slot failed.
func (r Report) Failed() bool {
	if len(r.PriceFailures) > 0 {
		return true
	}
	for _, s := range r.Slots {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Reconciler is the webhook reconciler.
type Reconciler struct {
	provider  payment.Provider
	variants  VariantResolver
	counters  CounterStore
	holds     HoldReleaser   // may be nil
	publisher EventPublisher // may be nil
	log       zerolog.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Reconciler.
type Deps struct {
	Provider  payment.Provider
	Variants  VariantResolver
	Counters  CounterStore
	Holds     HoldReleaser
	Publisher EventPublisher
}

// New returns a Reconciler.
func New(deps Deps, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		provider:  deps.Provider,
		variants:  deps.Variants,
		counters:  deps.Counters,
		holds:     deps.Holds,
		publisher: deps.Publisher,
		log:       log,
		now:       time.Now,
	}
}

// HandleEvent dispatches a verified webhook event.  Unknown event types are
// ignored.  A completed session whose payment is still pending is left for
// the async success event.
func (r *Reconciler) HandleEvent(ctx context.Context, ev payment.Event) error {
	if ev.Session == nil {
		r.log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("ignoring event")
		return nil
	}
	s := ev.Session
	switch ev.Type {
	case payment.EventCheckoutCompleted, payment.EventAsyncPaymentSucceeded:
		if !s.Paid {
			r.log.Info().Str("event_id", ev.ID).Str("session_id", s.ID).Msg("session completed without payment yet")
			return nil
		}
		_, err := r.Reconcile(ctx, s.ID, ev.ID, s.Metadata[payment.MetaHoldID])
		return err
	case payment.EventCheckoutExpired:
		r.releaseHold(ctx, s.Metadata[payment.MetaHoldID], s.ID)
		return nil
	default:
		r.log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("ignoring event")
		return nil
	}
}

// ReconcileSession re-runs reconciliation for a session by id.  The session
// must be paid.
func (r *Reconciler) ReconcileSession(ctx context.Context, sessionID, eventID string) (Report, error) {
	s, err := r.provider.GetSession(ctx, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("get session: %w", err)
	}
	if !s.Paid {
		return Report{}, ErrNotPaid
	}
	return r.Reconcile(ctx, s.ID, eventID, s.Metadata[payment.MetaHoldID])
}

// Reconcile applies the seats bought in session to the counters.  The error
// is non-nil only when the line items cannot be read; per-slot failures are
// reported in the Report and logged.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID, eventID, holdID string) (Report, error) {
	rep := Report{SessionID: sessionID, EventID: eventID, Slots: []SlotOutcome{}}
	log := r.log.With().Str("session_id", sessionID).Str("event_id", eventID).Logger()

	items, err := r.provider.ListLineItems(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("list line items failed, counters untouched")
		return rep, fmt.Errorf("list line items: %w", err)
	}

	byPrice := make(map[string]int)
	for _, it := range items {
		id := it.Metadata[payment.MetaOriginalPriceID]
		if id == "" {
			id = it.PriceID
		}
		if id == "" {
			log.Warn().Str("line_item", it.ID).Msg("line item without price")
			continue
		}
		byPrice[id] += int(it.Quantity)
	}

	bySlot := make(map[model.SlotKey]int)
	for _, id := range sortedKeys(byPrice) {
		v, err := r.variants.Lookup(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("price_id", id).Int("seats", byPrice[id]).Msg("cannot resolve price, slot left unchanged")
			rep.PriceFailures = append(rep.PriceFailures, PriceFailure{PriceID: id, Seats: byPrice[id], Error: err.Error()})
			continue
		}
		bySlot[v.SlotKey()] += byPrice[id]
	}

	keys := make([]model.SlotKey, 0, len(bySlot))
	for k := range bySlot {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].OfferingID != keys[j].OfferingID {
			return keys[i].OfferingID < keys[j].OfferingID
		}
		return keys[i].Slot < keys[j].Slot
	})

	for _, k := range keys {
		out := SlotOutcome{Key: k, Seats: bySlot[k]}
		c, applied, err := r.counters.ApplyIncrement(ctx, repository.SlotIncrement{
			SessionID: sessionID, EventID: eventID, Key: k, Seats: out.Seats,
		})
		var ev *zerolog.Event
		switch {
		case err != nil:
			out.Status, out.Error = StatusFailed, err.Error()
			ev = log.Error().Err(err)
		case applied:
			out.Status, out.Counter = StatusApplied, c
			ev = log.Info()
		default:
			out.Status, out.Counter = StatusDuplicate, c
			ev = log.Info()
		}
		ev.Str("offering_id", k.OfferingID).Str("slot", k.Slot).Int("increment", out.Seats).
			Int("booked_seats", out.Counter.BookedSeats).Int("max_seats", out.Counter.MaxSeats).
			Str("status", out.Status).Msg("slot reconciled")
		rep.Slots = append(rep.Slots, out)
	}

	// Release only after the counters carry the seats, so they are never
	// missing from both.
	if !rep.Failed() {
		rep.HoldReleased = r.releaseHold(ctx, holdID, sessionID)
	}
	r.publish(ctx, rep)
	return rep, nil
}

func (r *Reconciler) releaseHold(ctx context.Context, holdID, sessionID string) bool {
	if r.holds == nil || holdID == "" {
		return false
	}
	if err := r.holds.Release(ctx, holdID); err != nil {
		r.log.Warn().Err(err).Str("hold_id", holdID).Str("session_id", sessionID).Msg("release hold failed, it will expire")
		return false
	}
	return true
}

func (r *Reconciler) publish(ctx context.Context, rep Report) {
	if r.publisher == nil {
		return
	}
	ev := queue.SeatsBookedEvent{
		SessionID:    rep.SessionID,
		EventID:      rep.EventID,
		ReconciledAt: r.now().UTC().Format(time.RFC3339),
	}
	for _, s := range rep.Slots {
		if s.Status != StatusApplied {
			continue
		}
		ev.Slots = append(ev.Slots, queue.SlotBooking{
			OfferingID:  s.Key.OfferingID,
			Slot:        s.Key.Slot,
			Seats:       s.Seats,
			BookedSeats: s.Counter.BookedSeats,
			MaxSeats:    s.Counter.MaxSeats,
		})
		ev.TotalSeats += s.Seats
	}
	if len(ev.Slots) == 0 {
		return
	}
	if err := r.publisher.PublishSeatsBooked(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("session_id", rep.SessionID).Msg("publish seats booked failed")
	}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
