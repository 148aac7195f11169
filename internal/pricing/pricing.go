// Package pricing computes what each cart line actually costs.
//
// Two discounts exist.  A sibling discount applies to every line of every
// child except the first distinct child of the cart, and only when the cart
// holds at least two children: the line is billed at the paired discount-tier
// price when the cart names a valid one, otherwise at round(amount × rate).
// A full-day discount applies only when the cart holds exactly one child:
// when that child has a morning and an afternoon line in the same period,
// a fixed amount is subtracted from the afternoon line.  Discounts are applied
// in that order and a line never drops below zero.
//
// Lines pair for the full-day discount by (child, period label).  The label is
// compared trimmed and case-insensitively; lines without a period label never
// pair, and within one period only the first morning and the first afternoon
// line pair.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/iliyamo/camp-seat-checkout/internal/config"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// Display labels appended to line titles.
const (
	LabelSibling = "Sibling discount"
	LabelFullDay = "Full-day discount"
)

// Discount types recorded in line metadata.
const (
	DiscountNone    = "none"
	DiscountSibling = "sibling_10"
	DiscountFullDay = "full_day"
)

// ErrUnknownVariant is returned when a cart line names a full price that is
// missing from the supplied price set.
var ErrUnknownVariant = errors.New("unknown variant")

// Prices indexes the variants a cart may be billed against by variant id.
type Prices map[string]model.Variant

// LinePrice is the priced outcome of one cart line.
type LinePrice struct {
	Index                int      // position of the line in the cart
	BaseCents            int64    // canonical full price
	AmountCents          int64    // amount actually charged
	Currency             string   // currency of the canonical price
	Labels               []string // applied discount labels, in order
	Sibling              bool     // sibling discount applied
	UsedPairedPrice      bool     // sibling price came from the paired tier
	FullDay              bool     // full-day discount applied
	FullDayDiscountCents int64    // amount subtracted for the full day
	BilledVariantID      string   // canonical (full) variant the line is billed against
}

// DiscountType reports the discount recorded for the line.  A line never
// carries both discounts because they require different child counts.
func (l LinePrice) DiscountType() string {
	switch {
	case l.Sibling:
		return DiscountSibling
	case l.FullDay:
		return DiscountFullDay
	default:
		return DiscountNone
	}
}

// Total sums the charged amounts.
func Total(lines []LinePrice) int64 {
	var sum int64
	for _, l := range lines {
		sum += l.AmountCents
	}
	return sum
}

// Engine applies the discount rules.  It holds no state besides its
// configuration and is safe for concurrent use.
type Engine struct {
	cfg config.PricingConfig
}

// NewEngine returns an Engine using cfg.
func NewEngine(cfg config.PricingConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Price returns one LinePrice per cart line, in cart order.
func (e *Engine) Price(cart model.Cart, prices Prices) ([]LinePrice, error) {
	children := cart.Children()
	siblings := make(map[string]bool, len(children))
	for i, ch := range children {
		if i > 0 {
			siblings[ch.Key] = true
		}
	}
	multiChild := len(children) >= 2

	var fullDay map[int]int64
	if len(children) == 1 {
		var err error
		if fullDay, err = e.fullDayDiscounts(cart, prices); err != nil {
			return nil, err
		}
	}

	out := make([]LinePrice, 0, len(cart.Lines))
	for i, line := range cart.Lines {
		full, ok := prices[line.Variants.FullPriceID]
		if !ok {
			return nil, fmt.Errorf("line %d: %w: %q", i, ErrUnknownVariant, line.Variants.FullPriceID)
		}
		lp := LinePrice{
			Index:           i,
			BaseCents:       full.AmountCents,
			AmountCents:     full.AmountCents,
			Currency:        full.Currency,
			Labels:          []string{},
			BilledVariantID: full.ID,
		}

		if multiChild && siblings[line.ChildKey()] {
			if disc, ok := e.pairedPrice(line, full, prices); ok {
				lp.AmountCents = disc.AmountCents
				lp.UsedPairedPrice = true
			} else {
				lp.AmountCents = int64(math.Round(float64(full.AmountCents) * e.cfg.SiblingRate))
			}
			lp.Sibling = true
			lp.Labels = append(lp.Labels, LabelSibling)
		}

		if d, ok := fullDay[i]; ok {
			lp.AmountCents -= d
			lp.FullDay = true
			lp.FullDayDiscountCents = d
			lp.Labels = append(lp.Labels, LabelFullDay)
		}

		if lp.AmountCents < 0 {
			lp.AmountCents = 0
		}
		out = append(out, lp)
	}
	return out, nil
}

// pairedPrice returns the line's discount-tier variant when it is a genuine
// sibling price of the same slot.  A price id pointing at another slot, at
// another tier or at another currency is ignored.
func (e *Engine) pairedPrice(line model.CartLine, full model.Variant, prices Prices) (model.Variant, bool) {
	if line.Variants.DiscPriceID == "" {
		return model.Variant{}, false
	}
	disc, ok := prices[line.Variants.DiscPriceID]
	if !ok || disc.IsCanonical() {
		return model.Variant{}, false
	}
	if !strings.EqualFold(strings.TrimSpace(disc.DiscountTier), e.cfg.SiblingTier) {
		return model.Variant{}, false
	}
	if disc.SlotKey() != full.SlotKey() || !strings.EqualFold(disc.Currency, full.Currency) {
		return model.Variant{}, false
	}
	return disc, true
}

type dayPair struct {
	morning   int
	afternoon int
}

// fullDayDiscounts maps afternoon line indexes to the discount they receive.
func (e *Engine) fullDayDiscounts(cart model.Cart, prices Prices) (map[int]int64, error) {
	pairs := make(map[string]*dayPair)
	order := make([]string, 0)
	for i, line := range cart.Lines {
		full, ok := prices[line.Variants.FullPriceID]
		if !ok {
			return nil, fmt.Errorf("line %d: %w: %q", i, ErrUnknownVariant, line.Variants.FullPriceID)
		}
		period := strings.ToLower(strings.TrimSpace(line.PeriodLabel))
		if period == "" {
			continue
		}
		slot := model.NormalizeSlot(full.Slot)
		if slot != model.SlotMorning && slot != model.SlotAfternoon {
			continue
		}
		key := line.ChildKey() + "|" + period
		p, ok := pairs[key]
		if !ok {
			p = &dayPair{morning: -1, afternoon: -1}
			pairs[key] = p
			order = append(order, key)
		}
		if slot == model.SlotMorning && p.morning < 0 {
			p.morning = i
		}
		if slot == model.SlotAfternoon && p.afternoon < 0 {
			p.afternoon = i
		}
	}

	out := make(map[int]int64)
	for _, key := range order {
		p := pairs[key]
		if p.morning < 0 || p.afternoon < 0 {
			continue
		}
		afternoon := prices[cart.Lines[p.afternoon].Variants.FullPriceID]
		discount := e.cfg.FullDayDiscountCents
		if afternoon.FullDayDiscountCents != nil {
			discount = *afternoon.FullDayDiscountCents
		}
		if discount > 0 {
			out[p.afternoon] = discount
		}
	}
	return out, nil
}
