package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-seat-checkout/internal/capacity"
	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/payment"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	variants *fakeVariants
	holds    *fakeHolds
	buyers   *fakeBuyers
	provider *fakeProvider
	builder  *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		variants: &fakeVariants{byID: map[string]model.Variant{
			"am_full": {ID: "am_full", OfferingID: "prod_a", Slot: "morning", DiscountTier: "full", AmountCents: 15000, Currency: "eur", MaxSeats: 10, BookedSeats: 9, Active: true},
			"am_disc": {ID: "am_disc", OfferingID: "prod_a", Slot: "morning", DiscountTier: "disc10", AmountCents: 13000, Currency: "eur", MaxSeats: 10, BookedSeats: 9, Active: true},
			"pm_full": {ID: "pm_full", OfferingID: "prod_a", Slot: "afternoon", DiscountTier: "full", AmountCents: 15000, Currency: "eur", Active: true},
			"big":     {ID: "big", OfferingID: "prod_b", Slot: "morning", DiscountTier: "full", AmountCents: 20000, Currency: "eur", Active: true},
		}},
		holds:    &fakeHolds{},
		buyers:   &fakeBuyers{},
		provider: &fakeProvider{},
	}
	f.builder = NewBuilder(
		Deps{Variants: f.variants, Holds: f.holds, Buyers: f.buyers, Provider: f.provider},
		config.DefaultPricingConfig(),
		config.DefaultValidationConfig(),
		config.HoldConfig{Enabled: true, TTL: 30 * time.Minute, Grace: 15 * time.Minute, Prefix: "hold"},
		URLs{Success: "https://shop.example/thanks", Cancel: "https://shop.example/camps"},
		zerolog.Nop(),
	)
	f.builder.now = func() time.Time { return testNow }
	f.builder.validator.now = f.builder.now
	f.builder.newID = func() string { return "hold-1" }
	return f
}

func cartLine(first, full, disc, period string) model.CartLine {
	return model.CartLine{
		Variants:      model.VariantRef{FullPriceID: full, DiscPriceID: disc},
		ChildFirst:    first,
		ChildLast:     "Meier",
		ChildDOB:      "2015-06-01",
		Title:         "Chess camp",
		PeriodLabel:   period,
		TimeLabel:     "9-12",
		DisciplineKey: "chess",
		Slot:          "evening",
	}
}

func TestBuild_SingleChildFullDay(t *testing.T) {
	f := newFixture(t)
	res, err := f.builder.Build(context.Background(), model.Cart{
		Email: " Parent@Example.com ",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "am_disc", "Week 1"), cartLine("Anna", "pm_full", "", "Week 1")},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_1", res.URL)
	assert.Equal(t, "hold-1", res.HoldID)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	require.Len(t, req.Lines, 2)
	assert.Equal(t, int64(15000), req.Lines[0].UnitAmount)
	assert.Equal(t, int64(5000), req.Lines[1].UnitAmount)
	assert.Equal(t, "Chess camp (Full-day discount)", req.Lines[1].Name)
	assert.Equal(t, "Child: Anna Meier • Week 1 • 9-12", req.Lines[0].Description)

	meta := req.Lines[1].Metadata
	assert.Equal(t, "pm_full", meta[payment.MetaOriginalPriceID])
	assert.Equal(t, "prod_a", meta[payment.MetaProductID])
	assert.Equal(t, "afternoon", meta[payment.MetaSlot], "slot comes from the variant, not the client")
	assert.Equal(t, "full_day", meta[payment.MetaDiscountType])

	assert.Equal(t, "hold-1", req.Metadata[payment.MetaHoldID])
	assert.Equal(t, "1", req.PaymentMetadata[payment.MetaTotalChildren])
	assert.Equal(t, "2", req.PaymentMetadata[payment.MetaItemsCount])
	assert.Equal(t, "Anna Meier: chess · Week 1 · 9-12, chess · Week 1 · 9-12", req.PaymentMetadata[payment.MetaOrderSummary])
	assert.Equal(t, "https://shop.example/thanks?paid=1&session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, testNow.Add(30*time.Minute), req.ExpiresAt)
	assert.Equal(t, "cus_parent@example.com", req.CustomerID)

	// Only the capped morning slot is held.
	assert.Equal(t, []repository.HoldDemand{{
		Key: model.SlotKey{OfferingID: "prod_a", Slot: "morning"}, Seats: 1,
		Counter: model.CapacityCounter{MaxSeats: 10, BookedSeats: 9},
	}}, f.holds.reserved["hold-1"])
	assert.Empty(t, f.holds.released)
	assert.Equal(t, 1, f.buyers.created)
}

func TestBuild_SiblingsUsePairedPrice(t *testing.T) {
	f := newFixture(t)
	f.variants.byID["am_full"] = model.Variant{ID: "am_full", OfferingID: "prod_a", Slot: "morning", DiscountTier: "full", AmountCents: 15000, Currency: "eur", Active: true}
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "big", "", ""), cartLine("Ben", "big", "", ""), cartLine("Ben", "am_full", "am_disc", "")},
	})
	require.NoError(t, err)
	lines := f.provider.requests[0].Lines
	assert.Equal(t, int64(20000), lines[0].UnitAmount)
	assert.Equal(t, int64(18000), lines[1].UnitAmount)
	assert.Equal(t, int64(13000), lines[2].UnitAmount)
	assert.Equal(t, "sibling_10", lines[2].Metadata[payment.MetaDiscountType])
	assert.Equal(t, "am_full", lines[2].Metadata[payment.MetaOriginalPriceID], "always billed against the canonical price")
	assert.Equal(t, "Anna Meier, Ben Meier", f.provider.requests[0].PaymentMetadata[payment.MetaChildrenNames])
	assert.Nil(t, f.holds.reserved, "no capped slot, no hold")
}

func TestBuild_CapacityExceededCreatesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", ""), cartLine("Ben", "am_full", "", "")},
	})
	var capErr *capacity.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Shortfalls[0].Requested)
	assert.Empty(t, f.provider.requests)
	assert.Nil(t, f.holds.reserved)
	assert.Zero(t, f.buyers.created)
}

func TestBuild_HoldConflictIsCapacityError(t *testing.T) {
	f := newFixture(t)
	f.holds.reserveErr = &repository.HoldConflictError{Key: model.SlotKey{OfferingID: "prod_a", Slot: "morning"}, Requested: 1, Free: 0}
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", "")},
	})
	var capErr *capacity.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 0, capErr.Shortfalls[0].Free)
	assert.Empty(t, f.provider.requests)
}

func TestBuild_ProviderFailureReleasesHold(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = errors.New("stripe down")
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", "")},
	})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, CodeCheckoutFailed, upErr.Code())
	assert.Equal(t, []string{"hold-1"}, f.holds.released)
}

func TestBuild_HoldsDisabled(t *testing.T) {
	f := newFixture(t)
	b := NewBuilder(
		Deps{Variants: f.variants, Holds: f.holds, Buyers: f.buyers, Provider: f.provider},
		config.DefaultPricingConfig(), config.DefaultValidationConfig(),
		config.HoldConfig{Enabled: false, TTL: 30 * time.Minute},
		URLs{Success: "https://shop.example/?x=1"}, zerolog.Nop())
	b.validator.now = func() time.Time { return testNow }

	res, err := b.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", "")},
	})
	require.NoError(t, err)
	assert.Empty(t, res.HoldID)
	assert.Nil(t, f.holds.reserved)
	assert.Equal(t, "https://shop.example/?x=1&paid=1&session_id={CHECKOUT_SESSION_ID}", f.provider.requests[0].SuccessURL)
}

func TestBuild_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		cart model.Cart
		code string
	}{
		{"empty", model.Cart{Email: "parent@example.com"}, CodeEmptyCart},
		{"dob too young", model.Cart{Email: "parent@example.com", Lines: []model.CartLine{func() model.CartLine {
			l := cartLine("Anna", "am_full", "", "")
			l.ChildDOB = "2021-01-01"
			return l
		}()}}, CodeInvalidDOB},
		{"unknown price", model.Cart{Email: "parent@example.com", Lines: []model.CartLine{cartLine("Anna", "nope", "", "")}}, CodeInvalidItem},
		{"discount price as full", model.Cart{Email: "parent@example.com", Lines: []model.CartLine{cartLine("Anna", "am_disc", "", "")}}, CodeInvalidItem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.builder.Build(context.Background(), tc.cart)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.code, vErr.Code)
		})
	}
	assert.Empty(t, f.provider.requests)
}

func TestBuild_UnknownPairedPriceIsIgnored(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "big", "", ""), cartLine("Ben", "big", "gone", "")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(18000), f.provider.requests[0].Lines[1].UnitAmount)
}

func TestBuild_StoreFailureIsUpstream(t *testing.T) {
	f := newFixture(t)
	f.variants.err = errors.New("mysql gone")
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "big", "", "")},
	})
	var upErr *UpstreamError
	assert.ErrorAs(t, err, &upErr)
}

func TestBuild_LooksUpEachPriceOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "big", "", ""), cartLine("Ben", "big", "", ""), cartLine("Cleo", "pm_full", "", "")},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"big", "pm_full"}, f.variants.lookups)
}

func TestBuild_ReusesKnownBuyer(t *testing.T) {
	f := newFixture(t)
	f.buyers.byEmail = map[string]model.Buyer{"parent@example.com": {ID: 7, Email: "parent@example.com", ProviderCustomerID: "cus_known"}}
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "big", "", "")},
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_known", f.provider.requests[0].CustomerID)
	assert.Empty(t, f.provider.customerFor)
}

func TestBuild_HoldOutlivesSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", "")},
	})
	require.NoError(t, err)
	expires := f.provider.requests[0].ExpiresAt
	assert.Equal(t, testNow.Add(30*time.Minute), expires)
	assert.Equal(t, 45*time.Minute, f.holds.ttl)
	assert.True(t, testNow.Add(f.holds.ttl).After(expires))
}

func TestBuild_RecheckRejectsBookingReconciledMeanwhile(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := repository.NewHoldStore(rdb, "hold")
	f.builder.holds = store

	ctx := context.Background()
	morning := model.SlotKey{OfferingID: "prod_a", Slot: "morning"}
	// Another session holds the last seat; 9 of 10 are booked.
	require.NoError(t, store.Reserve(ctx, "x", []repository.HoldDemand{{
		Key: morning, Seats: 1, Counter: model.CapacityCounter{MaxSeats: 10, BookedSeats: 9},
	}}, time.Hour))

	// That session is reconciled right after this checkout read the counter:
	// the counter goes to 10 first, then its hold is dropped.
	var once sync.Once
	f.variants.afterLookup = func(id string) {
		if id != "am_full" {
			return
		}
		once.Do(func() {
			f.variants.setBooked("am_full", 10)
			assert.NoError(t, store.Release(ctx, "x"))
		})
	}

	_, err := f.builder.Build(ctx, model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", "")},
	})
	var capErr *capacity.Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, capacity.Shortfall{OfferingID: "prod_a", Slot: "morning", Requested: 1, Free: 0}, capErr.Shortfalls[0])
	assert.Empty(t, f.provider.requests)

	held, err := store.Held(ctx, []model.SlotKey{morning})
	require.NoError(t, err)
	assert.Empty(t, held, "the losing hold is released")
}

func TestBuild_RecheckPassesWhenCountersUnchanged(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{cartLine("Anna", "am_full", "", "")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"am_full", "am_full"}, f.variants.lookups)
	assert.Empty(t, f.holds.released)
}

func TestBuild_LongTitleIsTruncatedInMetadata(t *testing.T) {
	f := newFixture(t)
	line := cartLine("Anna", "big", "", "")
	line.Title = strings.Repeat("é", 600)
	_, err := f.builder.Build(context.Background(), model.Cart{
		Email: "parent@example.com",
		Lines: []model.CartLine{line},
	})
	require.NoError(t, err)
	meta := f.provider.requests[0].Lines[0].Metadata
	assert.Equal(t, maxMetadataValue, len([]rune(meta[payment.MetaTitle])))
	for k, v := range meta {
		assert.LessOrEqual(t, len([]rune(v)), maxMetadataValue, k)
	}
}
