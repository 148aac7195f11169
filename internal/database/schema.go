package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables the service owns.  The variants table stores
// slots lower-cased; the canonical row of a slot has discount_tier = 'full'
// and carries the seat counter that every other tier mirrors.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS offerings (
		id             VARCHAR(64)  NOT NULL PRIMARY KEY,
		title          VARCHAR(255) NOT NULL,
		image_url      VARCHAR(512) NOT NULL DEFAULT '',
		age_label      VARCHAR(64)  NOT NULL DEFAULT '',
		period_label   VARCHAR(128) NOT NULL DEFAULT '',
		season         VARCHAR(64)  NOT NULL DEFAULT '',
		discipline_key VARCHAR(64)  NOT NULL DEFAULT '',
		page_ref       VARCHAR(512) NOT NULL DEFAULT '',
		is_active      TINYINT(1)   NOT NULL DEFAULT 1,
		created_at     DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS variants (
		id                      VARCHAR(64) NOT NULL PRIMARY KEY,
		offering_id             VARCHAR(64) NOT NULL,
		slot                    VARCHAR(32) NOT NULL,
		discount_tier           VARCHAR(32) NOT NULL,
		amount_cents            BIGINT      NOT NULL,
		currency                CHAR(3)     NOT NULL,
		time_label              VARCHAR(64) NOT NULL DEFAULT '',
		max_seats               INT UNSIGNED NOT NULL DEFAULT 0,
		booked_seats            INT UNSIGNED NOT NULL DEFAULT 0,
		full_day_discount_cents BIGINT      NULL,
		is_active               TINYINT(1)  NOT NULL DEFAULT 1,
		updated_at              DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_variants_slot (offering_id, slot, discount_tier),
		CONSTRAINT fk_variants_offering FOREIGN KEY (offering_id) REFERENCES offerings(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS buyers (
		id                   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email                VARCHAR(255) NOT NULL,
		provider_customer_id VARCHAR(64)  NOT NULL,
		created_at           DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_buyers_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS seat_increments (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		session_id  VARCHAR(255) NOT NULL,
		offering_id VARCHAR(64)  NOT NULL,
		slot        VARCHAR(32)  NOT NULL,
		event_id    VARCHAR(255) NOT NULL,
		seats       INT UNSIGNED NOT NULL,
		created_at  DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_seat_increments (session_id, offering_id, slot)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS seat_holds (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		hold_id     VARCHAR(64)  NOT NULL,
		offering_id VARCHAR(64)  NOT NULL,
		slot        VARCHAR(32)  NOT NULL,
		seats       INT UNSIGNED NOT NULL,
		expires_at  DATETIME     NOT NULL,
		created_at  DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_seat_holds_hold (hold_id),
		KEY idx_seat_holds_slot (offering_id, slot, expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS operators (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_operators_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
