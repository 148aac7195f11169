package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/payment"
)

// maxWebhookBytes bounds the body read before signature verification.
const maxWebhookBytes = 1 << 20

// WebhookParser verifies and decodes provider webhooks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payment.Event, error)
}

// EventHandler processes a verified provider event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev payment.Event) error
}

type WebhookHandler struct {
	Parser WebhookParser
	Events EventHandler
	Log    zerolog.Logger
}

func NewWebhookHandler(p WebhookParser, events EventHandler, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{Parser: p, Events: events, Log: log.With().Str("component", "webhook_handler").Logger()}
}

// Receive serves POST /api/webhooks.  Once the signature is verified the
// delivery is always acknowledged: reconciliation is idempotent and failed
// slots are replayed through the admin endpoint, not through provider
// retries.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "INVALID_BODY"})
	}
	ev, err := h.Parser.ParseWebhook(body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		var serr *payment.SignatureError
		if errors.As(err, &serr) {
			h.Log.Warn().Err(err).Msg("webhook signature rejected")
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "INVALID_SIGNATURE"})
		}
		h.Log.Warn().Err(err).Msg("webhook payload rejected")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "INVALID_EVENT"})
	}
	if err := h.Events.HandleEvent(c.Request().Context(), ev); err != nil {
		h.Log.Error().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("webhook processing failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
