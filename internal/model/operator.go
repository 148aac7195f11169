package model

import "time"

// Operator is a back-office account allowed to call the admin endpoints.
// Buyers never log in; they are identified by email at checkout.
type Operator struct {
	ID           uint64    // operators.id
	Email        string    // operators.email
	PasswordHash string    // operators.password_hash (bcrypt)
	IsActive     bool      // operators.is_active
	CreatedAt    time.Time // operators.created_at
}
