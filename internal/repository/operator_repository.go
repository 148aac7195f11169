package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/utils"
)

var (
	ErrOperatorExists   = errors.New("operator already exists")
	ErrOperatorNotFound = errors.New("operator not found")
)

// OperatorRepo stores back-office accounts.
type OperatorRepo struct{ DB *sql.DB }

func NewOperatorRepo(db *sql.DB) *OperatorRepo { return &OperatorRepo{DB: db} }

// Create hashes password with the given bcrypt cost and inserts the
// operator.
func (r *OperatorRepo) Create(ctx context.Context, email, password string, cost int) (uint64, error) {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO operators (email, password_hash) VALUES (?, ?)",
		NormalizeEmail(email), hash)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return 0, ErrOperatorExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail returns the active operator with the given email.
func (r *OperatorRepo) GetByEmail(ctx context.Context, email string) (model.Operator, error) {
	var o model.Operator
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, email, password_hash, is_active, created_at FROM operators WHERE email = ? AND is_active = 1 LIMIT 1",
		NormalizeEmail(email)).Scan(&o.ID, &o.Email, &o.PasswordHash, &o.IsActive, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operator{}, ErrOperatorNotFound
	}
	return o, err
}
