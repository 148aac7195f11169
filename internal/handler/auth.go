package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
	"github.com/iliyamo/camp-seat-checkout/internal/utils"
)

// OperatorStore finds back-office accounts by email.
type OperatorStore interface {
	GetByEmail(ctx context.Context, email string) (model.Operator, error)
}

// AuthHandler issues admin access tokens to operators.
type AuthHandler struct {
	Operators OperatorStore
	Secret    string
	TTL       time.Duration
	Log       zerolog.Logger
}

func NewAuthHandler(ops OperatorStore, secret string, ttl time.Duration, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{Operators: ops, Secret: secret, TTL: ttl, Log: log.With().Str("component", "auth_handler").Logger()}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResp struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Login serves POST /v1/auth/login.  Unknown emails and wrong passwords
// get the same answer.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	op, err := h.Operators.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrOperatorNotFound) {
		h.Log.Error().Err(err).Msg("load operator")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if err != nil || !utils.VerifyPassword(op.PasswordHash, req.Password) {
		h.Log.Warn().Str("email", email).Msg("login rejected")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	tok, err := utils.NewAdminToken(h.Secret, op.Email, h.TTL)
	if err != nil {
		h.Log.Error().Err(err).Msg("issue token")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	h.Log.Info().Str("email", op.Email).Msg("operator logged in")
	return c.JSON(http.StatusOK, tokenResp{Token: tok.Token, Expires: tok.Exp})
}
