package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/capacity"
	"github.com/iliyamo/camp-seat-checkout/internal/checkout"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// SessionBuilder creates hosted checkout sessions.
type SessionBuilder interface {
	Build(ctx context.Context, cart model.Cart) (checkout.Result, error)
}

type CheckoutHandler struct {
	Builder SessionBuilder
	Log     zerolog.Logger
}

func NewCheckoutHandler(b SessionBuilder, log zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{Builder: b, Log: log.With().Str("component", "checkout_handler").Logger()}
}

// ----- DTOs -----

type variantIDsReq struct {
	FullPriceID string `json:"fullPriceId"`
	DiscPriceID string `json:"discPriceId"`
}

type cartItemReq struct {
	VariantIDs    variantIDsReq `json:"variantIds"`
	Slot          string        `json:"slot"`
	ChildFirst    string        `json:"childFirst"`
	ChildLast     string        `json:"childLast"`
	ChildDOB      string        `json:"childDob"`
	OfferingID    string        `json:"offeringId"`
	Title         string        `json:"title"`
	PeriodLabel   string        `json:"periodLabel"`
	TimeLabel     string        `json:"timeLabel"`
	DisciplineKey string        `json:"disciplineKey"`
}

type checkoutReq struct {
	Email string        `json:"email"`
	Items []cartItemReq `json:"items"`
}

func (r checkoutReq) cart() model.Cart {
	cart := model.Cart{Email: r.Email, Lines: make([]model.CartLine, 0, len(r.Items))}
	for _, it := range r.Items {
		cart.Lines = append(cart.Lines, model.CartLine{
			Variants:      model.VariantRef{FullPriceID: it.VariantIDs.FullPriceID, DiscPriceID: it.VariantIDs.DiscPriceID},
			OfferingID:    it.OfferingID,
			Slot:          it.Slot,
			ChildFirst:    it.ChildFirst,
			ChildLast:     it.ChildLast,
			ChildDOB:      it.ChildDOB,
			Title:         it.Title,
			PeriodLabel:   it.PeriodLabel,
			TimeLabel:     it.TimeLabel,
			DisciplineKey: it.DisciplineKey,
		})
	}
	return cart
}

// Create serves POST /api/create-checkout-session and returns the hosted
// checkout URL.
func (h *CheckoutHandler) Create(c echo.Context) error {
	var req checkoutReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "INVALID_BODY", "message": "request body must be JSON"})
	}
	res, err := h.Builder.Build(c.Request().Context(), req.cart())
	if err != nil {
		var cerr *capacity.Error
		var uerr *checkout.UpstreamError
		switch {
		case errors.As(err, &uerr):
			h.Log.Error().Err(err).Str("op", uerr.Op).Msg("checkout failed")
		case errors.As(err, &cerr):
			h.Log.Info().Interface("shortfalls", cerr.Shortfalls).Msg("checkout rejected: capacity")
		default:
			h.Log.Debug().Err(err).Msg("checkout rejected")
		}
		return writeCheckoutError(c, err)
	}
	h.Log.Info().Str("session_id", res.SessionID).Str("hold_id", res.HoldID).Int("lines", len(req.Items)).Msg("checkout session created")
	return c.JSON(http.StatusOK, echo.Map{"url": res.URL})
}
