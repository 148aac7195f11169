// Package checkout turns a client cart into a hosted checkout session.
//
// Every step before the provider call is a gate that aborts without side
// effects.  Once capacity is confirmed the seats are held for the lifetime
// of the session plus a grace period for late webhooks; the hold is dropped
// again if anything after it fails.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/camp-seat-checkout/internal/capacity"
	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/payment"
	"github.com/iliyamo/camp-seat-checkout/internal/pricing"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
)

// maxLookups bounds concurrent price lookups for one cart.
const maxLookups = 8

// Stripe rejects metadata values longer than this.
const maxMetadataValue = 500

// VariantSource looks up a single active variant.
type VariantSource interface {
	GetByID(ctx context.Context, id string) (model.Variant, error)
}

// SeatHolder places, counts and drops seat holds.
type SeatHolder interface {
	Reserve(ctx context.Context, holdID string, demands []repository.HoldDemand, ttl time.Duration) error
	Release(ctx context.Context, holdID string) error
	Held(ctx context.Context, keys []model.SlotKey) (map[model.SlotKey]int, error)
}

// BuyerStore persists buyers.
type BuyerStore interface {
	FindByEmail(ctx context.Context, email string) (model.Buyer, error)
	Create(ctx context.Context, email, providerCustomerID string) (model.Buyer, error)
}

// URLs are the redirect targets of the hosted page.
type URLs struct {
	Success string
	Cancel  string
}

// Result is a created checkout session.
type Result struct {
	URL       string
	SessionID string
	HoldID    string
}

// Builder is the checkout session builder.
type Builder struct {
	variants  VariantSource
	holds     SeatHolder // nil disables holds
	buyers    BuyerStore
	provider  payment.Provider
	validator *Validator
	engine    *pricing.Engine
	guard     *capacity.Guard
	holdTTL   time.Duration
	holdGrace time.Duration
	urls      URLs
	log       zerolog.Logger

	now   func() time.Time
	newID func() string
}

// Deps groups the collaborators of a Builder.
type Deps struct {
	Variants VariantSource
	Holds    SeatHolder
	Buyers   BuyerStore
	Provider payment.Provider
}

// NewBuilder returns a Builder.  When hold.Enabled is false or deps.Holds is
// nil the capacity check is advisory only.
func NewBuilder(deps Deps, pc config.PricingConfig, vc config.ValidationConfig, hold config.HoldConfig, urls URLs, log zerolog.Logger) *Builder {
	b := &Builder{
		variants:  deps.Variants,
		buyers:    deps.Buyers,
		provider:  deps.Provider,
		validator: NewValidator(vc),
		engine:    pricing.NewEngine(pc),
		guard:     capacity.NewGuard(),
		holdTTL:   hold.TTL,
		holdGrace: hold.Grace,
		urls:      urls,
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	if hold.Enabled && deps.Holds != nil {
		b.holds = deps.Holds
	}
	return b
}

// Build validates, checks capacity, holds seats, prices the cart and creates
// the provider session.  Errors are *ValidationError, *capacity.Error or
// *UpstreamError.
func (b *Builder) Build(ctx context.Context, cart model.Cart) (Result, error) {
	cart = normalize(cart)
	if err := b.validator.Cart(cart); err != nil {
		return Result{}, err
	}

	prices, err := b.lookupPrices(ctx, cart)
	if err != nil {
		return Result{}, err
	}

	req, err := capacity.NewReservationRequest(cart, prices)
	if err != nil {
		return Result{}, invalid(CodeInvalidItem, -1, "%v", err)
	}
	counters := make(map[model.SlotKey]model.CapacityCounter, len(req.Demands))
	canonical := make(map[model.SlotKey]string, len(req.Demands))
	for _, line := range cart.Lines {
		v := prices[line.Variants.FullPriceID]
		counters[v.SlotKey()] = v.Counter()
		canonical[v.SlotKey()] = v.ID
	}
	if err := b.guard.Check(req, counters); err != nil {
		return Result{}, err
	}

	lines, err := b.engine.Price(cart, prices)
	if err != nil {
		return Result{}, invalid(CodeInvalidItem, -1, "%v", err)
	}

	holdID, err := b.hold(ctx, req, counters, canonical)
	if err != nil {
		return Result{}, err
	}
	committed := false
	defer func() {
		if !committed && holdID != "" {
			// The request context may already be cancelled.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := b.holds.Release(rctx, holdID); err != nil {
				b.log.Error().Err(err).Str("hold_id", holdID).Msg("release hold after failed checkout")
			}
		}
	}()

	customerID, err := b.customer(ctx, cart.Email)
	if err != nil {
		return Result{}, err
	}

	sreq := b.sessionRequest(cart, prices, lines, customerID, holdID)
	sess, err := b.provider.CreateSession(ctx, sreq)
	if err != nil {
		return Result{}, &UpstreamError{Op: "create checkout session", Err: err}
	}
	committed = true

	b.log.Info().
		Str("session_id", sess.ID).
		Str("hold_id", holdID).
		Int("items", len(cart.Lines)).
		Int64("total_cents", pricing.Total(lines)).
		Msg("checkout session created")
	return Result{URL: sess.URL, SessionID: sess.ID, HoldID: holdID}, nil
}

// lookupPrices fetches every distinct price id of the cart concurrently.
// Unknown full prices are INVALID_ITEM; unknown paired prices are dropped
// and the line falls back to the computed sibling rate.
func (b *Builder) lookupPrices(ctx context.Context, cart model.Cart) (pricing.Prices, error) {
	full := make(map[string]bool)
	var ids []string
	seen := make(map[string]bool)
	for _, l := range cart.Lines {
		for _, id := range []string{l.Variants.FullPriceID, l.Variants.DiscPriceID} {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		full[l.Variants.FullPriceID] = true
	}

	found := make([]*model.Variant, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLookups)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			v, err := b.variants.GetByID(gctx, id)
			if errors.Is(err, repository.ErrVariantNotFound) {
				if full[id] {
					return invalid(CodeInvalidItem, -1, "unknown price %q", id)
				}
				return nil
			}
			if err != nil {
				return &UpstreamError{Op: "price lookup " + id, Err: err}
			}
			if full[id] && !v.IsCanonical() {
				return invalid(CodeInvalidItem, -1, "price %q is not a full price", id)
			}
			found[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prices := make(pricing.Prices, len(ids))
	for _, v := range found {
		if v != nil {
			prices[v.ID] = *v
		}
	}
	return prices, nil
}

// normalize returns a copy of cart with trimmed price ids and email.
func normalize(cart model.Cart) model.Cart {
	out := model.Cart{Email: strings.TrimSpace(cart.Email), Lines: make([]model.CartLine, len(cart.Lines))}
	for i, l := range cart.Lines {
		l.Variants.FullPriceID = strings.TrimSpace(l.Variants.FullPriceID)
		l.Variants.DiscPriceID = strings.TrimSpace(l.Variants.DiscPriceID)
		out.Lines[i] = l
	}
	return out
}

// hold reserves the capped slots of req and then re-checks them against
// fresh counters.  The counters passed in were read before the reservation,
// so a booking reconciled in between could otherwise be sold twice.
func (b *Builder) hold(ctx context.Context, req capacity.ReservationRequest, counters map[model.SlotKey]model.CapacityCounter, canonical map[model.SlotKey]string) (string, error) {
	if b.holds == nil {
		return "", nil
	}
	var demands []repository.HoldDemand
	for _, d := range req.Demands {
		c := counters[d.Key]
		if !c.Limited() {
			continue
		}
		demands = append(demands, repository.HoldDemand{Key: d.Key, Seats: d.Seats, Counter: c})
	}
	if len(demands) == 0 {
		return "", nil
	}
	id := b.newID()
	err := b.holds.Reserve(ctx, id, demands, b.holdTTL+b.holdGrace)
	var conflict *repository.HoldConflictError
	switch {
	case errors.As(err, &conflict):
		return "", &capacity.Error{Shortfalls: []capacity.Shortfall{{
			OfferingID: conflict.Key.OfferingID,
			Slot:       conflict.Key.Slot,
			Requested:  conflict.Requested,
			Free:       conflict.Free,
		}}}
	case err != nil:
		return "", &UpstreamError{Op: "hold seats", Err: err}
	}
	if err := b.recheck(ctx, demands, canonical); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := b.holds.Release(rctx, id); rerr != nil {
			b.log.Error().Err(rerr).Str("hold_id", id).Msg("release hold after recheck")
		}
		return "", err
	}
	return id, nil
}

// recheck reads the holds first and the counters second.  Reconciliation
// raises the counter before it drops the hold, so a seat in transit is
// always seen in at least one of the two reads.
func (b *Builder) recheck(ctx context.Context, demands []repository.HoldDemand, canonical map[model.SlotKey]string) error {
	keys := make([]model.SlotKey, len(demands))
	for i, d := range demands {
		keys[i] = d.Key
	}
	held, err := b.holds.Held(ctx, keys)
	if err != nil {
		return &UpstreamError{Op: "count holds", Err: err}
	}
	var short []capacity.Shortfall
	for _, d := range demands {
		v, err := b.variants.GetByID(ctx, canonical[d.Key])
		if err != nil {
			return &UpstreamError{Op: "recheck " + d.Key.String(), Err: err}
		}
		c := v.Counter()
		if !c.Limited() || c.BookedSeats+held[d.Key] <= c.MaxSeats {
			continue
		}
		free := c.MaxSeats - c.BookedSeats - (held[d.Key] - d.Seats)
		if free < 0 {
			free = 0
		}
		short = append(short, capacity.Shortfall{OfferingID: d.Key.OfferingID, Slot: d.Key.Slot, Requested: d.Seats, Free: free})
	}
	if len(short) > 0 {
		return &capacity.Error{Shortfalls: short}
	}
	return nil
}

// customer finds the buyer locally first, then at the provider, and
// records the provider customer for next time.
func (b *Builder) customer(ctx context.Context, email string) (string, error) {
	email = repository.NormalizeEmail(email)
	buyer, err := b.buyers.FindByEmail(ctx, email)
	if err == nil {
		return buyer.ProviderCustomerID, nil
	}
	if !errors.Is(err, repository.ErrBuyerNotFound) {
		return "", &UpstreamError{Op: "find buyer", Err: err}
	}
	customerID, err := b.provider.FindOrCreateCustomer(ctx, email)
	if err != nil {
		return "", &UpstreamError{Op: "find or create customer", Err: err}
	}
	buyer, err = b.buyers.Create(ctx, email, customerID)
	if err != nil {
		return "", &UpstreamError{Op: "store buyer", Err: err}
	}
	return buyer.ProviderCustomerID, nil
}

func (b *Builder) sessionRequest(cart model.Cart, prices pricing.Prices, lines []pricing.LinePrice, customerID, holdID string) payment.SessionRequest {
	out := make([]payment.SessionLine, 0, len(lines))
	for i, lp := range lines {
		line := cart.Lines[i]
		full := prices[lp.BilledVariantID]
		meta := map[string]string{
			payment.MetaOriginalPriceID: full.ID,
			payment.MetaProductID:       full.OfferingID,
			payment.MetaSlot:            full.SlotKey().Slot,
			payment.MetaChildFirst:      strings.TrimSpace(line.ChildFirst),
			payment.MetaChildLast:       strings.TrimSpace(line.ChildLast),
			payment.MetaChildDOB:        line.ChildDOB,
			payment.MetaTitle:           line.Title,
			payment.MetaPeriodLabel:     line.PeriodLabel,
			payment.MetaTimeLabel:       line.TimeLabel,
			payment.MetaDisciplineKey:   line.DisciplineKey,
			payment.MetaDiscountType:    lp.DiscountType(),
			payment.MetaLabels:          strings.Join(lp.Labels, ", "),
		}
		// client text goes straight into metadata
		for k, v := range meta {
			meta[k] = truncate(v, maxMetadataValue)
		}
		out = append(out, payment.SessionLine{
			Name:        lineTitle(line, full, lp.Labels),
			Description: lineDescription(line),
			Currency:    lp.Currency,
			UnitAmount:  lp.AmountCents,
			Quantity:    1,
			Metadata:    meta,
		})
	}

	children := cart.Children()
	summary, names := orderSummary(cart, children)
	req := payment.SessionRequest{
		CustomerID: customerID,
		Lines:      out,
		Metadata:   map[string]string{},
		PaymentMetadata: map[string]string{
			payment.MetaOrderSummary:  truncate(summary, maxMetadataValue),
			payment.MetaTotalChildren: strconv.Itoa(len(children)),
			payment.MetaItemsCount:    strconv.Itoa(len(cart.Lines)),
			payment.MetaChildrenNames: truncate(names, maxMetadataValue),
		},
		SuccessURL: successURL(b.urls.Success),
		CancelURL:  b.urls.Cancel,
	}
	if holdID != "" {
		req.Metadata[payment.MetaHoldID] = holdID
	}
	if b.holdTTL > 0 {
		req.ExpiresAt = b.now().Add(b.holdTTL)
	}
	return req
}

func lineTitle(line model.CartLine, full model.Variant, labels []string) string {
	title := strings.TrimSpace(line.Title)
	if title == "" {
		title = full.OfferingID
	}
	if len(labels) > 0 {
		title += " (" + strings.Join(labels, ", ") + ")"
	}
	return title
}

func lineDescription(line model.CartLine) string {
	var parts []string
	if name := line.ChildName(); name != "" {
		parts = append(parts, "Child: "+name)
	}
	if p := strings.TrimSpace(line.PeriodLabel); p != "" {
		parts = append(parts, p)
	}
	if t := strings.TrimSpace(line.TimeLabel); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, " • ")
}

func orderSummary(cart model.Cart, children []model.ChildGroup) (summary, names string) {
	perChild := make([]string, 0, len(children))
	childNames := make([]string, 0, len(children))
	for _, ch := range children {
		name := cart.Lines[ch.Lines[0]].ChildName()
		childNames = append(childNames, name)
		items := make([]string, 0, len(ch.Lines))
		for _, i := range ch.Lines {
			l := cart.Lines[i]
			items = append(items, fmt.Sprintf("%s · %s · %s", l.DisciplineKey, l.PeriodLabel, l.TimeLabel))
		}
		perChild = append(perChild, name+": "+strings.Join(items, ", "))
	}
	return strings.Join(perChild, "; "), strings.Join(childNames, ", ")
}

func successURL(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "paid=1&session_id={CHECKOUT_SESSION_ID}"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
