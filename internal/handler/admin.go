package handler

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-seat-checkout/internal/middleware"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/reconcile"
)

// CounterLister reads the canonical counter of every slot.
type CounterLister interface {
	Counters(ctx context.Context) (map[model.SlotKey]model.CapacityCounter, error)
}

// HeldCounter sums the active seat holds of the given slots.
type HeldCounter interface {
	Held(ctx context.Context, keys []model.SlotKey) (map[model.SlotKey]int, error)
}

// SessionReconciler re-runs reconciliation for one checkout session.
type SessionReconciler interface {
	ReconcileSession(ctx context.Context, sessionID, eventID string) (reconcile.Report, error)
}

// AdminHandler serves the operator endpoints under /v1/admin.
type AdminHandler struct {
	Counters   CounterLister
	Holds      HeldCounter // nil when holds are disabled
	Reconciler SessionReconciler
	Log        zerolog.Logger
}

func NewAdminHandler(counters CounterLister, holds HeldCounter, rec SessionReconciler, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{Counters: counters, Holds: holds, Reconciler: rec, Log: log.With().Str("component", "admin_handler").Logger()}
}

type slotResp struct {
	OfferingID  string `json:"offeringId"`
	Slot        string `json:"slot"`
	MaxSeats    int    `json:"maxSeats"`
	BookedSeats int    `json:"bookedSeats"`
	HeldSeats   int    `json:"heldSeats"`
	FreeSeats   *int   `json:"freeSeats"`
}

// Slots serves GET /v1/admin/slots.  freeSeats subtracts active holds and is
// null for unlimited slots.
func (h *AdminHandler) Slots(c echo.Context) error {
	ctx := c.Request().Context()
	counters, err := h.Counters.Counters(ctx)
	if err != nil {
		h.Log.Error().Err(err).Msg("read counters")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	keys := make([]model.SlotKey, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].OfferingID != keys[j].OfferingID {
			return keys[i].OfferingID < keys[j].OfferingID
		}
		return keys[i].Slot < keys[j].Slot
	})

	held := map[model.SlotKey]int{}
	if h.Holds != nil && len(keys) > 0 {
		if held, err = h.Holds.Held(ctx, keys); err != nil {
			h.Log.Warn().Err(err).Msg("read holds")
			held = map[model.SlotKey]int{}
		}
	}

	out := make([]slotResp, 0, len(keys))
	for _, k := range keys {
		cnt := counters[k]
		r := slotResp{OfferingID: k.OfferingID, Slot: k.Slot, MaxSeats: cnt.MaxSeats, BookedSeats: cnt.BookedSeats, HeldSeats: held[k]}
		if free, limited := cnt.FreeSeats(); limited {
			free -= r.HeldSeats
			if free < 0 {
				free = 0
			}
			r.FreeSeats = &free
		}
		out = append(out, r)
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": out})
}

// Reconcile serves POST /v1/admin/sessions/:id/reconcile.  Replays are safe:
// slots already applied for the session report "duplicate".
func (h *AdminHandler) Reconcile(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "session id required"})
	}
	admin, _ := c.Get(middleware.CtxAdminID).(string)
	rep, err := h.Reconciler.ReconcileSession(c.Request().Context(), id, "manual:"+admin)
	if errors.Is(err, reconcile.ErrNotPaid) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "NOT_PAID", "message": "checkout session is not paid"})
	}
	if err != nil {
		h.Log.Error().Err(err).Str("session_id", id).Msg("manual reconcile failed")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "RECONCILE_FAILED", "message": err.Error()})
	}
	h.Log.Info().Str("session_id", id).Str("admin", admin).Bool("failed", rep.Failed()).Msg("manual reconcile")
	return c.JSON(http.StatusOK, echo.Map{"report": rep, "failed": rep.Failed()})
}
