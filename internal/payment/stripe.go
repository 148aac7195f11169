package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrProviderUnavailable is returned while the circuit breaker is open.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// StripeProvider implements Provider on top of Stripe Checkout.  Every API
// call goes through a circuit breaker so that a degraded Stripe fails fast
// instead of tying up checkout requests.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	cb            *gobreaker.CircuitBreaker
	log           zerolog.Logger
}

// NewStripeProvider returns a provider using secretKey for API calls and
// webhookSecret for signature checks.  backends may be nil.
func NewStripeProvider(secretKey, webhookSecret string, backends *stripe.Backends, log zerolog.Logger) *StripeProvider {
	p := &StripeProvider{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		log:           log,
	}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		// Card and validation errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			var se *stripe.Error
			if errors.As(err, &se) {
				return se.HTTPStatusCode > 0 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return p
}

func (p *StripeProvider) call(op string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := p.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", op, ErrProviderUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// FindOrCreateCustomer returns the id of the first customer with email, or
// creates one.
func (p *StripeProvider) FindOrCreateCustomer(ctx context.Context, email string) (string, error) {
	out, err := p.call("find or create customer", func() (interface{}, error) {
		lp := &stripe.CustomerListParams{Email: stripe.String(email)}
		lp.Context = ctx
		lp.Limit = stripe.Int64(1)
		lp.Single = true
		it := p.api.Customers.List(lp)
		if it.Next() {
			return it.Customer().ID, nil
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		cp := &stripe.CustomerParams{Email: stripe.String(email)}
		cp.Context = ctx
		c, err := p.api.Customers.New(cp)
		if err != nil {
			return nil, err
		}
		return c.ID, nil
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// CreateSession creates a hosted checkout session in payment mode.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:                stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(false),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if len(req.PaymentMetadata) > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: req.PaymentMetadata}
	}
	for _, l := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(l.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(l.Currency),
				UnitAmount: stripe.Int64(l.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(l.Name),
					Description: stripe.String(l.Description),
					Metadata:    l.Metadata,
				},
			},
		})
	}

	out, err := p.call("create checkout session", func() (interface{}, error) {
		return p.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return Session{}, err
	}
	return toSession(out.(*stripe.CheckoutSession)), nil
}

// GetSession fetches a checkout session.
func (p *StripeProvider) GetSession(ctx context.Context, id string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	out, err := p.call("get checkout session", func() (interface{}, error) {
		return p.api.CheckoutSessions.Get(id, params)
	})
	if err != nil {
		return Session{}, err
	}
	return toSession(out.(*stripe.CheckoutSession)), nil
}

// ListLineItems returns every line item of the session with its product
// metadata.  Items created before metadata was attached fall back to their
// price id as the original price.
func (p *StripeProvider) ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	out, err := p.call("list line items", func() (interface{}, error) {
		params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
		params.Context = ctx
		params.Limit = stripe.Int64(100)
		params.AddExpand("data.price.product")
		it := p.api.CheckoutSessions.ListLineItems(params)
		var items []LineItem
		for it.Next() {
			items = append(items, toLineItem(it.LineItem()))
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]LineItem), nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, &SignatureError{Err: err}
	}
	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && ev.Data != nil {
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return Event{}, fmt.Errorf("decode checkout session: %w", err)
		}
		s := toSession(&cs)
		out.Session = &s
	}
	return out, nil
}

func toSession(cs *stripe.CheckoutSession) Session {
	return Session{
		ID:       cs.ID,
		URL:      cs.URL,
		Paid:     cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		Metadata: cs.Metadata,
	}
}

func toLineItem(li *stripe.LineItem) LineItem {
	item := LineItem{ID: li.ID, Quantity: li.Quantity, Metadata: map[string]string{}}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if li.Price != nil {
		item.PriceID = li.Price.ID
		if li.Price.Product != nil {
			for k, v := range li.Price.Product.Metadata {
				item.Metadata[k] = v
			}
		}
	}
	if item.Metadata[MetaOriginalPriceID] == "" {
		item.Metadata[MetaOriginalPriceID] = item.PriceID
	}
	return item
}
