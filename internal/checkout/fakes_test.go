package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
	"github.com/iliyamo/camp-seat-checkout/internal/payment"
	"github.com/iliyamo/camp-seat-checkout/internal/repository"
)

type fakeVariants struct {
	mu      sync.Mutex
	byID    map[string]model.Variant
	err     error
	lookups []string

	// afterLookup runs once a lookup has taken its snapshot.
	afterLookup func(id string)
}

func (f *fakeVariants) GetByID(_ context.Context, id string) (model.Variant, error) {
	v, err := f.get(id)
	if f.afterLookup != nil {
		f.afterLookup(id)
	}
	return v, err
}

func (f *fakeVariants) get(id string) (model.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, id)
	if f.err != nil {
		return model.Variant{}, f.err
	}
	v, ok := f.byID[id]
	if !ok {
		return model.Variant{}, repository.ErrVariantNotFound
	}
	return v, nil
}

func (f *fakeVariants) setBooked(id string, booked int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.byID[id]
	v.BookedSeats = booked
	f.byID[id] = v
}

type fakeHolds struct {
	reserveErr error
	reserved   map[string][]repository.HoldDemand
	ttl        time.Duration
	released   []string
}

func (f *fakeHolds) Reserve(_ context.Context, id string, demands []repository.HoldDemand, ttl time.Duration) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	if f.reserved == nil {
		f.reserved = map[string][]repository.HoldDemand{}
	}
	f.reserved[id] = demands
	f.ttl = ttl
	return nil
}

func (f *fakeHolds) Release(_ context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}

func (f *fakeHolds) Held(_ context.Context, keys []model.SlotKey) (map[model.SlotKey]int, error) {
	gone := map[string]bool{}
	for _, id := range f.released {
		gone[id] = true
	}
	want := map[model.SlotKey]bool{}
	for _, k := range keys {
		want[k] = true
	}
	out := map[model.SlotKey]int{}
	for id, demands := range f.reserved {
		if gone[id] {
			continue
		}
		for _, d := range demands {
			if want[d.Key] {
				out[d.Key] += d.Seats
			}
		}
	}
	return out, nil
}

type fakeBuyers struct {
	byEmail map[string]model.Buyer
	created int
}

func (f *fakeBuyers) FindByEmail(_ context.Context, email string) (model.Buyer, error) {
	b, ok := f.byEmail[email]
	if !ok {
		return model.Buyer{}, repository.ErrBuyerNotFound
	}
	return b, nil
}

func (f *fakeBuyers) Create(_ context.Context, email, customerID string) (model.Buyer, error) {
	if f.byEmail == nil {
		f.byEmail = map[string]model.Buyer{}
	}
	f.created++
	b := model.Buyer{ID: uint64(f.created), Email: email, ProviderCustomerID: customerID}
	f.byEmail[email] = b
	return b, nil
}

type fakeProvider struct {
	createErr   error
	requests    []payment.SessionRequest
	customerFor []string
}

func (f *fakeProvider) FindOrCreateCustomer(_ context.Context, email string) (string, error) {
	f.customerFor = append(f.customerFor, email)
	return "cus_" + email, nil
}

func (f *fakeProvider) CreateSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return payment.Session{}, f.createErr
	}
	return payment.Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
}

func (f *fakeProvider) GetSession(context.Context, string) (payment.Session, error) {
	return payment.Session{}, nil
}

func (f *fakeProvider) ListLineItems(context.Context, string) ([]payment.LineItem, error) {
	return nil, nil
}

func (f *fakeProvider) ParseWebhook([]byte, string) (payment.Event, error) {
	return payment.Event{}, nil
}
