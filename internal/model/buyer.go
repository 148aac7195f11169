package model

import "time"

// Buyer is the paying customer of a checkout, keyed by normalized email.
// ProviderCustomerID is the payment provider's customer record for the
// same email so repeated checkouts reuse one customer.
type Buyer struct {
	ID                 uint64    // buyers.id
	Email              string    // buyers.email
	ProviderCustomerID string    // buyers.provider_customer_id
	CreatedAt          time.Time // buyers.created_at
}
