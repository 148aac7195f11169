package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// VariantRepo provides access to the variants table, which doubles as the
// seat counter store.  For every (offering, slot) the row with
// discount_tier = 'full' is the canonical counter; all other tiers of the
// slot hold a copy of its max_seats/booked_seats.
type VariantRepo struct {
	db *sql.DB
}

// NewVariantRepo returns a new VariantRepo bound to db.
func NewVariantRepo(db *sql.DB) *VariantRepo { return &VariantRepo{db: db} }

// DB exposes the underlying handle so callers can manage transactions.
func (r *VariantRepo) DB() *sql.DB { return r.db }

const variantColumns = `id, offering_id, slot, discount_tier, amount_cents, currency, time_label,
	max_seats, booked_seats, full_day_discount_cents, is_active, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariant(s rowScanner) (model.Variant, error) {
	var v model.Variant
	var fullDay sql.NullInt64
	if err := s.Scan(&v.ID, &v.OfferingID, &v.Slot, &v.DiscountTier, &v.AmountCents, &v.Currency, &v.TimeLabel,
		&v.MaxSeats, &v.BookedSeats, &fullDay, &v.Active, &v.UpdatedAt); err != nil {
		return model.Variant{}, err
	}
	if fullDay.Valid {
		d := fullDay.Int64
		v.FullDayDiscountCents = &d
	}
	return v, nil
}

// GetByID fetches one active variant.  ErrVariantNotFound is returned when
// the id is unknown or the variant is no longer sold.
func (r *VariantRepo) GetByID(ctx context.Context, id string) (model.Variant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ? AND is_active = 1`, id)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Variant{}, ErrVariantNotFound
	}
	return v, err
}

// Lookup fetches a variant whether or not it is still sold.  Reconciliation
// uses it because a price may be retired after it was paid for.
func (r *VariantRepo) Lookup(ctx context.Context, id string) (model.Variant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM variants WHERE id = ?`, id)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Variant{}, ErrVariantNotFound
	}
	return v, err
}

// ListActive returns every active variant ordered by offering, slot and tier.
func (r *VariantRepo) ListActive(ctx context.Context) ([]model.Variant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE is_active = 1 ORDER BY offering_id, slot, discount_tier, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Counters returns the canonical counter of every slot that has a 'full'
// variant, keyed by SlotKey.
func (r *VariantRepo) Counters(ctx context.Context) (map[model.SlotKey]model.CapacityCounter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT offering_id, slot, max_seats, booked_seats FROM variants WHERE LOWER(discount_tier) = 'full' ORDER BY offering_id, slot, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SlotKey]model.CapacityCounter)
	for rows.Next() {
		var k model.SlotKey
		var c model.CapacityCounter
		if err := rows.Scan(&k.OfferingID, &k.Slot, &c.MaxSeats, &c.BookedSeats); err != nil {
			return nil, err
		}
		k.Slot = model.NormalizeSlot(k.Slot)
		if _, dup := out[k]; !dup {
			out[k] = c
		}
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a variant.  Used by seeding and tests.
func (r *VariantRepo) Upsert(ctx context.Context, v model.Variant) error {
	const q = `INSERT INTO variants (id, offering_id, slot, discount_tier, amount_cents, currency, time_label,
				   max_seats, booked_seats, full_day_discount_cents, is_active)
			   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			   ON DUPLICATE KEY UPDATE offering_id = VALUES(offering_id), slot = VALUES(slot),
				   discount_tier = VALUES(discount_tier), amount_cents = VALUES(amount_cents),
				   currency = VALUES(currency), time_label = VALUES(time_label), max_seats = VALUES(max_seats),
				   booked_seats = VALUES(booked_seats), full_day_discount_cents = VALUES(full_day_discount_cents),
				   is_active = VALUES(is_active)`
	var fullDay sql.NullInt64
	if v.FullDayDiscountCents != nil {
		fullDay = sql.NullInt64{Int64: *v.FullDayDiscountCents, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q, v.ID, v.OfferingID, model.NormalizeSlot(v.Slot), strings.ToLower(strings.TrimSpace(v.DiscountTier)),
		v.AmountCents, strings.ToLower(v.Currency), v.TimeLabel, v.MaxSeats, v.BookedSeats, fullDay, v.Active)
	return err
}

// SlotIncrement is one confirmed booking of seats in a slot, tied to the
// checkout session that paid for it.
type SlotIncrement struct {
	SessionID string
	EventID   string
	Key       model.SlotKey
	Seats     int
}

// ApplyIncrement adds inc.Seats to the canonical counter of inc.Key and
// copies the resulting counter onto every other tier of the slot, all in
// one transaction.  The (session, offering, slot) ledger row written in the
// same transaction makes the call idempotent: when the session was already
// applied for this slot nothing changes and applied is false.
func (r *VariantRepo) ApplyIncrement(ctx context.Context, inc SlotIncrement) (counter model.CapacityCounter, applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CapacityCounter{}, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// ON DUPLICATE KEY with a no-op update reports 0 affected rows for an
	// existing ledger entry.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO seat_increments (session_id, offering_id, slot, event_id, seats) VALUES (?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE session_id = session_id`,
		inc.SessionID, inc.Key.OfferingID, inc.Key.Slot, inc.EventID, inc.Seats)
	if err != nil {
		return model.CapacityCounter{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.CapacityCounter{}, false, err
	}
	if n == 0 {
		c, err := r.canonicalCounterTx(ctx, tx, inc.Key)
		return c, false, err
	}

	var canonicalID string
	var c model.CapacityCounter
	err = tx.QueryRowContext(ctx,
		`SELECT id, max_seats, booked_seats FROM variants
		 WHERE offering_id = ? AND LOWER(slot) = ? AND LOWER(discount_tier) = 'full'
		 ORDER BY id LIMIT 1 FOR UPDATE`,
		inc.Key.OfferingID, inc.Key.Slot).Scan(&canonicalID, &c.MaxSeats, &c.BookedSeats)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CapacityCounter{}, false, ErrNoCanonicalVariant
	}
	if err != nil {
		return model.CapacityCounter{}, false, err
	}

	c.BookedSeats += inc.Seats
	if _, err := tx.ExecContext(ctx, `UPDATE variants SET booked_seats = ? WHERE id = ?`, c.BookedSeats, canonicalID); err != nil {
		return model.CapacityCounter{}, false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE variants SET max_seats = ?, booked_seats = ? WHERE offering_id = ? AND LOWER(slot) = ? AND id <> ?`,
		c.MaxSeats, c.BookedSeats, inc.Key.OfferingID, inc.Key.Slot, canonicalID); err != nil {
		return model.CapacityCounter{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return model.CapacityCounter{}, false, err
	}
	committed = true
	return c, true, nil
}

func (r *VariantRepo) canonicalCounterTx(ctx context.Context, tx *sql.Tx, key model.SlotKey) (model.CapacityCounter, error) {
	const q = `SELECT max_seats, booked_seats FROM variants
		  WHERE offering_id = ? AND LOWER(slot) = ? AND LOWER(discount_tier) = 'full' ORDER BY id LIMIT 1`
	var c model.CapacityCounter
	err := tx.QueryRowContext(ctx, q, key.OfferingID, key.Slot).Scan(&c.MaxSeats, &c.BookedSeats)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CapacityCounter{}, ErrNoCanonicalVariant
	}
	return c, err
}
