package crdb

import (
	"context"
)

// Schema creates the seat inventory tables. SELECTED is still accepted in
// seats.status for rows written before it was folded into HELD.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS seats (
		id INT8 PRIMARY KEY,
		game_id INT8 NOT NULL,
		grade_id INT8 NOT NULL DEFAULT 0,
		label STRING NOT NULL DEFAULT '',
		status STRING NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE', 'SELECTED', 'HELD', 'RESERVED')),
		version INT8 NOT NULL DEFAULT 0,
		hold_buyer_id INT8 NULL,
		held_at TIMESTAMPTZ NULL,
		hold_expires_at TIMESTAMPTZ NULL,
		INDEX seats_game_idx (game_id),
		INDEX seats_hold_expiry_idx (hold_expires_at) WHERE status IN ('HELD', 'SELECTED')
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id UUID PRIMARY KEY,
		buyer_id INT8 NOT NULL,
		game_id INT8 NOT NULL,
		status STRING NOT NULL CHECK (status IN ('RESERVED', 'CANCELED')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		INDEX reservations_buyer_idx (buyer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reservation_seats (
		reservation_id UUID NOT NULL REFERENCES reservations (id),
		seat_id INT8 NOT NULL REFERENCES seats (id),
		position INT4 NOT NULL,
		PRIMARY KEY (reservation_id, seat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type STRING NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type STRING NOT NULL,
		payload_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ NULL,
		status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key STRING NOT NULL,
		INDEX outbox_status_idx (status, created_at)
	)`,
}

func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return mapError(err, "migrate")
		}
	}
	return nil
}
