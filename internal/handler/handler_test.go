package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-seat-checkout/internal/capacity"
	"github.com/iliyamo/camp-seat-checkout/internal/catalog"
	"github.com/iliyamo/camp-seat-checkout/internal/checkout"
	"github.com/iliyamo/camp-seat-checkout/internal/middleware"
	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/payment"
	"github.com/iliyamo/camp-seat-checkout/internal/reconcile"
)

type fakeCatalog struct {
	entries []catalog.Entry
	err     error
}

func (f fakeCatalog) List(context.Context) ([]catalog.Entry, error) { return f.entries, f.err }

type fakeBuilder struct {
	got model.Cart
	res checkout.Result
	err error
}

func (f *fakeBuilder) Build(_ context.Context, cart model.Cart) (checkout.Result, error) {
	f.got = cart
	return f.res, f.err
}

type fakeParser struct {
	ev  payment.Event
	err error
}

func (f fakeParser) ParseWebhook([]byte, string) (payment.Event, error) { return f.ev, f.err }

type fakeEvents struct {
	seen []payment.Event
	err  error
}

func (f *fakeEvents) HandleEvent(_ context.Context, ev payment.Event) error {
	f.seen = append(f.seen, ev)
	return f.err
}

type fakeCounters map[model.SlotKey]model.CapacityCounter

func (f fakeCounters) Counters(context.Context) (map[model.SlotKey]model.CapacityCounter, error) {
	return f, nil
}

type fakeHeld map[model.SlotKey]int

func (f fakeHeld) Held(context.Context, []model.SlotKey) (map[model.SlotKey]int, error) { return f, nil }

type fakeReconciler struct {
	sessionID, eventID string
	rep                reconcile.Report
	err                error
}

func (f *fakeReconciler) ReconcileSession(_ context.Context, sessionID, eventID string) (reconcile.Report, error) {
	f.sessionID, f.eventID = sessionID, eventID
	return f.rep, f.err
}

func do(h echo.HandlerFunc, method, body string, setup func(echo.Context)) (*httptest.ResponseRecorder, map[string]any) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}
	_ = h(c)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestCatalogHandler(t *testing.T) {
	h := NewCatalogHandler(fakeCatalog{entries: []catalog.Entry{{ID: "camp-a__morning"}}}, zerolog.Nop())
	rec, body := do(h.List, http.MethodGet, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["catalog"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "camp-a__morning", list[0].(map[string]any)["id"])

	h = NewCatalogHandler(fakeCatalog{err: errors.New("db down")}, zerolog.Nop())
	rec, _ = do(h.List, http.MethodGet, "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

const cartJSON = `{
  "email": "parent@example.com",
  "items": [{
	"variantIds": {"fullPriceId": "price_full", "discPriceId": "price_disc"},
	"slot": "morning", "childFirst": "Ana", "childLast": "Lee", "childDob": "2015-04-01",
	"offeringId": "camp-a", "title": "Art Camp", "periodLabel": "July 1-5",
	"timeLabel": "9:00-12:00", "disciplineKey": "art"
  }]
}`

func TestCheckoutHandler_Success(t *testing.T) {
	b := &fakeBuilder{res: checkout.Result{URL: "https://pay.example/cs_1", SessionID: "cs_1"}}
	rec, body := do(NewCheckoutHandler(b, zerolog.Nop()).Create, http.MethodPost, cartJSON, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://pay.example/cs_1", body["url"])
	require.Len(t, b.got.Lines, 1)
	line := b.got.Lines[0]
	assert.Equal(t, "parent@example.com", b.got.Email)
	assert.Equal(t, model.VariantRef{FullPriceID: "price_full", DiscPriceID: "price_disc"}, line.Variants)
	assert.Equal(t, "2015-04-01", line.ChildDOB)
	assert.Equal(t, "July 1-5", line.PeriodLabel)
	assert.Equal(t, "art", line.DisciplineKey)
}

func TestCheckoutHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &checkout.ValidationError{Code: checkout.CodeInvalidDOB, Message: "bad date", Line: 0}, http.StatusBadRequest, checkout.CodeInvalidDOB},
		{"empty", &checkout.ValidationError{Code: checkout.CodeEmptyCart, Message: "empty", Line: -1}, http.StatusBadRequest, checkout.CodeEmptyCart},
		{"capacity", &capacity.Error{Shortfalls: []capacity.Shortfall{{OfferingID: "camp-a", Slot: "morning", Requested: 2, Free: 1}}}, http.StatusBadRequest, capacity.Code},
		{"upstream", &checkout.UpstreamError{Op: "create session", Err: errors.New("boom")}, http.StatusInternalServerError, checkout.CodeCheckoutFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBuilder{err: tc.err}
			rec, body := do(NewCheckoutHandler(b, zerolog.Nop()).Create, http.MethodPost, cartJSON, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, body["error"])
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestCheckoutHandler_CapacityShortfallsInBody(t *testing.T) {
	b := &fakeBuilder{err: &capacity.Error{Shortfalls: []capacity.Shortfall{{OfferingID: "camp-a", Slot: "morning", Requested: 2, Free: 1}}}}
	_, body := do(NewCheckoutHandler(b, zerolog.Nop()).Create, http.MethodPost, cartJSON, nil)
	short := body["shortfalls"].([]any)
	require.Len(t, short, 1)
	assert.Equal(t, float64(1), short[0].(map[string]any)["free"])
}

func TestCheckoutHandler_BadJSON(t *testing.T) {
	b := &fakeBuilder{}
	rec, _ := do(NewCheckoutHandler(b, zerolog.Nop()).Create, http.MethodPost, "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandler(t *testing.T) {
	ev := payment.Event{ID: "evt_1", Type: payment.EventCheckoutCompleted, Session: &payment.Session{ID: "cs_1", Paid: true}}

	events := &fakeEvents{}
	rec, body := do(NewWebhookHandler(fakeParser{ev: ev}, events, zerolog.Nop()).Receive, http.MethodPost, "{}", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["received"])
	require.Len(t, events.seen, 1)
	assert.Equal(t, "evt_1", events.seen[0].ID)

	// processing failures are still acknowledged
	events = &fakeEvents{err: errors.New("db down")}
	rec, _ = do(NewWebhookHandler(fakeParser{ev: ev}, events, zerolog.Nop()).Receive, http.MethodPost, "{}", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	events = &fakeEvents{}
	bad := fakeParser{err: &payment.SignatureError{Err: errors.New("no match")}}
	rec, body = do(NewWebhookHandler(bad, events, zerolog.Nop()).Receive, http.MethodPost, "{}", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", body["error"])
	assert.Empty(t, events.seen)
}

func TestAdminHandler_Slots(t *testing.T) {
	a := model.SlotKey{OfferingID: "camp-a", Slot: "morning"}
	b := model.SlotKey{OfferingID: "camp-a", Slot: "afternoon"}
	counters := fakeCounters{
		a: {MaxSeats: 10, BookedSeats: 8},
		b: {MaxSeats: 0, BookedSeats: 4},
	}
	h := NewAdminHandler(counters, fakeHeld{a: 1}, &fakeReconciler{}, zerolog.Nop())
	rec, body := do(h.Slots, http.MethodGet, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	slots := body["slots"].([]any)
	require.Len(t, slots, 2)
	first := slots[0].(map[string]any)
	assert.Equal(t, "afternoon", first["slot"])
	assert.Nil(t, first["freeSeats"])
	second := slots[1].(map[string]any)
	assert.Equal(t, float64(1), second["heldSeats"])
	assert.Equal(t, float64(1), second["freeSeats"])
}

func TestAdminHandler_Reconcile(t *testing.T) {
	setup := func(c echo.Context) {
		c.SetParamNames("id")
		c.SetParamValues("cs_1")
		c.Set(middleware.CtxAdminID, "ops")
	}

	rec := &fakeReconciler{rep: reconcile.Report{SessionID: "cs_1"}}
	h := NewAdminHandler(fakeCounters{}, nil, rec, zerolog.Nop())
	resp, body := do(h.Reconcile, http.MethodPost, "", setup)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, body["failed"])
	assert.Equal(t, "cs_1", rec.sessionID)
	assert.Equal(t, "manual:ops", rec.eventID)

	h = NewAdminHandler(fakeCounters{}, nil, &fakeReconciler{err: reconcile.ErrNotPaid}, zerolog.Nop())
	resp, _ = do(h.Reconcile, http.MethodPost, "", setup)
	assert.Equal(t, http.StatusConflict, resp.Code)

	h = NewAdminHandler(fakeCounters{}, nil, &fakeReconciler{err: errors.New("provider down")}, zerolog.Nop())
	resp, _ = do(h.Reconcile, http.MethodPost, "", setup)
	assert.Equal(t, http.StatusBadGateway, resp.Code)
}

func TestHealth(t *testing.T) {
	rec, _ := do(Health, http.MethodGet, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
