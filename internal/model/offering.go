package model

import "time"

// Offering represents a bookable camp.  An offering is sold through one or
// more variants (see Variant), one per slot and discount tier.  Offerings are
// maintained by the catalog import process and are read-only to the
// checkout flow.
//
// Fields:
//  ID            – external identifier (the payment provider's product id).
//  Title         – human readable camp title.
//  ImageURL      – cover image shown by the storefront.
//  AgeLabel      – display label for the target age range.
//  PeriodLabel   – display label for the week/period the camp runs in.
//  Season        – season tab the offering belongs to.
//  DisciplineKey – discipline tag (e.g. "chess", "robotics").
//  PageRef       – reference to the external marketing page.
//  Active        – whether the offering is currently sold.
type Offering struct {
	ID            string    // offerings.id
	Title         string    // offerings.title
	ImageURL      string    // offerings.image_url
	AgeLabel      string    // offerings.age_label
	PeriodLabel   string    // offerings.period_label
	Season        string    // offerings.season
	DisciplineKey string    // offerings.discipline_key
	PageRef       string    // offerings.page_ref
	Active        bool      // offerings.is_active
	CreatedAt     time.Time // offerings.created_at
	UpdatedAt     time.Time // offerings.updated_at
}
