// Package payment hides the hosted-checkout provider behind a small
// interface.  The rest of the service only needs to create a session,
// read back its line items and verify webhook deliveries.
package payment

import (
	"context"
	"fmt"
	"time"
)

// Line item metadata keys.  They are written at checkout and read back by
// reconciliation, so they must never change for sessions still in flight.
const (
	MetaOriginalPriceID = "original_price_id"
	MetaProductID       = "product_id"
	MetaSlot            = "slot"
	MetaChildFirst      = "childFirst"
	MetaChildLast       = "childLast"
	MetaChildDOB        = "child_dob"
	MetaTitle           = "title"
	MetaPeriodLabel     = "period_label"
	MetaTimeLabel       = "time_label"
	MetaDisciplineKey   = "discipline_key"
	MetaDiscountType    = "discount_type"
	MetaLabels          = "labels"
)

// Session metadata keys.
const (
	MetaHoldID        = "hold_id"
	MetaOrderSummary  = "order_summary"
	MetaTotalChildren = "total_children"
	MetaItemsCount    = "items_count"
	MetaChildrenNames = "children_names"
)

// Webhook event types the service reacts to.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired       = "checkout.session.expired"
)

// SessionLine is one priced line of a checkout session.
type SessionLine struct {
	Name        string
	Description string
	Currency    string
	UnitAmount  int64
	Quantity    int64
	Metadata    map[string]string
}

// SessionRequest describes a hosted checkout session to create.
type SessionRequest struct {
	CustomerID      string
	Lines           []SessionLine
	Metadata        map[string]string // attached to the session
	PaymentMetadata map[string]string // attached to the resulting payment
	SuccessURL      string
	CancelURL       string
	ExpiresAt       time.Time
}

// Session is the provider's view of a checkout session.
type Session struct {
	ID       string
	URL      string
	Paid     bool
	Metadata map[string]string
}

// LineItem is a purchased line read back from a session.
type LineItem struct {
	ID       string
	PriceID  string
	Quantity int64
	Metadata map[string]string
}

// Event is a verified webhook delivery.  Session is populated for checkout
// session events only.
type Event struct {
	ID      string
	Type    string
	Session *Session
}

// Provider is a hosted checkout provider.
type Provider interface {
	FindOrCreateCustomer(ctx context.Context, email string) (string, error)
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// SignatureError is returned by ParseWebhook when a delivery cannot be
// authenticated.  Such events must not be processed.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string { return fmt.Sprintf("invalid webhook signature: %v", e.Err) }

func (e *SignatureError) Unwrap() error { return e.Err }
