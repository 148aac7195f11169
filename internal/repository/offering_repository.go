package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// OfferingRepo reads camp offerings.  Offerings are maintained by the
// catalog tooling; the service never writes them outside of tests.
type OfferingRepo struct {
	db *sql.DB
}

// NewOfferingRepo returns a new OfferingRepo bound to db.
func NewOfferingRepo(db *sql.DB) *OfferingRepo { return &OfferingRepo{db: db} }

const offeringColumns = `id, title, image_url, age_label, period_label, season, discipline_key, page_ref, is_active, created_at, updated_at`

// ListActive returns every active offering ordered by id.
func (r *OfferingRepo) ListActive(ctx context.Context) ([]model.Offering, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+offeringColumns+` FROM offerings WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Offering
	for rows.Next() {
		var o model.Offering
		if err := rows.Scan(&o.ID, &o.Title, &o.ImageURL, &o.AgeLabel, &o.PeriodLabel, &o.Season,
			&o.DisciplineKey, &o.PageRef, &o.Active, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces an offering.  Used by seeding and tests.
func (r *OfferingRepo) Upsert(ctx context.Context, o model.Offering) error {
	const q = `INSERT INTO offerings (id, title, image_url, age_label, period_label, season, discipline_key, page_ref, is_active)
			   VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			   ON DUPLICATE KEY UPDATE title = VALUES(title), image_url = VALUES(image_url), age_label = VALUES(age_label),
				   period_label = VALUES(period_label), season = VALUES(season), discipline_key = VALUES(discipline_key),
				   page_ref = VALUES(page_ref), is_active = VALUES(is_active)`
	_, err := r.db.ExecContext(ctx, q, o.ID, o.Title, o.ImageURL, o.AgeLabel, o.PeriodLabel, o.Season,
		o.DisciplineKey, o.PageRef, o.Active)
	return err
}
