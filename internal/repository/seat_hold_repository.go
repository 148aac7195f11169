package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// SeatHoldRepo keeps seat holds in the seat_holds table.  It is the hold
// backend used when Redis is not available: reservations serialize on the
// canonical variant rows (SELECT ... FOR UPDATE), so two checkouts racing
// for the last seat of a slot cannot both win.
type SeatHoldRepo struct {
	db *sql.DB
}

// NewSeatHoldRepo returns a new SeatHoldRepo bound to the provided database.
func NewSeatHoldRepo(db *sql.DB) *SeatHoldRepo { return &SeatHoldRepo{db: db} }

// Reserve places hold holdID over every demand or over none.  A hold id
// that already exists is replaced.  Each slot must satisfy
// booked + active holds + seats <= max; the counter is read from the locked
// canonical row, not from the demand.
func (r *SeatHoldRepo) Reserve(ctx context.Context, holdID string, demands []HoldDemand, ttl time.Duration) (err error) {
	if len(demands) == 0 {
		return nil
	}
	// lock rows in a fixed order so concurrent reservations cannot deadlock
	sorted := append([]HoldDemand(nil), demands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.String() < sorted[j].Key.String() })

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM seat_holds WHERE hold_id = ?`, holdID); err != nil {
		return err
	}

	expires := time.Now().UTC().Add(ttl)
	insert := make([]HoldDemand, 0, len(sorted))
	for _, d := range sorted {
		counter, err := r.lockCanonicalTx(ctx, tx, d.Key)
		if err != nil {
			return err
		}
		if !counter.Limited() {
			continue
		}
		held, err := r.activeSeatsTx(ctx, tx, d.Key)
		if err != nil {
			return err
		}
		if counter.BookedSeats+held+d.Seats > counter.MaxSeats {
			free := counter.MaxSeats - counter.BookedSeats - held
			if free < 0 {
				free = 0
			}
			return &HoldConflictError{Key: d.Key, Requested: d.Seats, Free: free}
		}
		insert = append(insert, d)
	}
	if err = r.insertTx(ctx, tx, holdID, insert, expires); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *SeatHoldRepo) lockCanonicalTx(ctx context.Context, tx *sql.Tx, key model.SlotKey) (model.CapacityCounter, error) {
	var c model.CapacityCounter
	err := tx.QueryRowContext(ctx,
		`SELECT max_seats, booked_seats FROM variants
		 WHERE offering_id = ? AND slot = ? AND discount_tier = ? LIMIT 1 FOR UPDATE`,
		key.OfferingID, key.Slot, model.TierFull).Scan(&c.MaxSeats, &c.BookedSeats)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("%s: %w", key, ErrNoCanonicalVariant)
	}
	return c, err
}

func (r *SeatHoldRepo) activeSeatsTx(ctx context.Context, tx *sql.Tx, key model.SlotKey) (int, error) {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_holds WHERE offering_id = ? AND slot = ? AND expires_at <= UTC_TIMESTAMP()`,
		key.OfferingID, key.Slot); err != nil {
		return 0, err
	}
	var held int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seats), 0) FROM seat_holds WHERE offering_id = ? AND slot = ? AND expires_at > UTC_TIMESTAMP()`,
		key.OfferingID, key.Slot).Scan(&held)
	return held, err
}

func (r *SeatHoldRepo) insertTx(ctx context.Context, tx *sql.Tx, holdID string, demands []HoldDemand, expires time.Time) error {
	if len(demands) == 0 {
		return nil
	}
	rows := make([]string, 0, len(demands))
	args := make([]interface{}, 0, len(demands)*5)
	for _, d := range demands {
		rows = append(rows, "(?, ?, ?, ?, ?)")
		args = append(args, holdID, d.Key.OfferingID, d.Key.Slot, d.Seats, expires.Format("2006-01-02 15:04:05"))
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO seat_holds (hold_id, offering_id, slot, seats, expires_at) VALUES `+strings.Join(rows, ","),
		args...)
	return err
}

// Release drops every slot of the hold.  Unknown ids are not an error.
func (r *SeatHoldRepo) Release(ctx context.Context, holdID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM seat_holds WHERE hold_id = ?`, holdID)
	return err
}

// Held sums the active holds per slot.  Slots without holds are absent
// from the result.
func (r *SeatHoldRepo) Held(ctx context.Context, keys []model.SlotKey) (map[model.SlotKey]int, error) {
	out := make(map[model.SlotKey]int, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	want := make(map[model.SlotKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT offering_id, slot, SUM(seats) FROM seat_holds
		 WHERE expires_at > UTC_TIMESTAMP() GROUP BY offering_id, slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k model.SlotKey
		var n int
		if err := rows.Scan(&k.OfferingID, &k.Slot, &n); err != nil {
			return nil, err
		}
		if want[k] {
			out[k] = n
		}
	}
	return out, rows.Err()
}
