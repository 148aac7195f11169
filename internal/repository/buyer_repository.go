package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// BuyerRepo maps buyer emails to payment-provider customers.
type BuyerRepo struct{ DB *sql.DB }

func NewBuyerRepo(db *sql.DB) *BuyerRepo { return &BuyerRepo{DB: db} }

// ErrBuyerNotFound is returned by FindByEmail for unknown emails.
var ErrBuyerNotFound = errors.New("buyer not found")

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// FindByEmail fetches a buyer by normalized email.
func (r *BuyerRepo) FindByEmail(ctx context.Context, email string) (model.Buyer, error) {
	var b model.Buyer
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,provider_customer_id,created_at FROM buyers WHERE email=? LIMIT 1",
		NormalizeEmail(email)).Scan(&b.ID, &b.Email, &b.ProviderCustomerID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Buyer{}, ErrBuyerNotFound
	}
	return b, err
}

// Create stores the buyer.  When another request created the same email
// first, the stored row wins and is returned instead.
func (r *BuyerRepo) Create(ctx context.Context, email, providerCustomerID string) (model.Buyer, error) {
	email = NormalizeEmail(email)
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO buyers (email, provider_customer_id) VALUES (?,?) ON DUPLICATE KEY UPDATE email=email",
		email, providerCustomerID)
	if err != nil {
		return model.Buyer{}, err
	}
	return r.FindByEmail(ctx, email)
}
