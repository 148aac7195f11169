package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/camp-seat-checkout/internal/capacity"
	"github.com/iliyamo/camp-seat-checkout/internal/checkout"
)

// writeCheckoutError maps a checkout failure to its response.  Buyer
// correctable problems are 400, everything else is a 500 that hides the
// underlying cause.
func writeCheckoutError(c echo.Context, err error) error {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		body := echo.Map{"error": verr.Code, "message": verr.Message}
		if verr.Line >= 0 {
			body["line"] = verr.Line
		}
		return c.JSON(http.StatusBadRequest, body)
	}
	var cerr *capacity.Error
	if errors.As(err, &cerr) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":      capacity.Code,
			"message":    "not enough seats left for the selected slots",
			"shortfalls": cerr.Shortfalls,
		})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{
		"error":   checkout.CodeCheckoutFailed,
		"message": "could not create checkout session",
	})
}
