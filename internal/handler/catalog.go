package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/catalog"
)

// CatalogLister returns the storefront catalog.
type CatalogLister interface {
	List(ctx context.Context) ([]catalog.Entry, error)
}

type CatalogHandler struct {
	Catalog CatalogLister
	Log     zerolog.Logger
}

func NewCatalogHandler(cl CatalogLister, log zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{Catalog: cl, Log: log.With().Str("component", "catalog_handler").Logger()}
}

// List serves GET /api/catalog.
func (h *CatalogHandler) List(c echo.Context) error {
	entries, err := h.Catalog.List(c.Request().Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("list catalog")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "CATALOG_UNAVAILABLE"})
	}
	return c.JSON(http.StatusOK, echo.Map{"catalog": entries})
}
