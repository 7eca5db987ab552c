package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema of the ladder store. Decimals are kept as NUMERIC so no precision is lost.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ladder_plans (
		id                    TEXT PRIMARY KEY,
		symbol                TEXT NOT NULL,
		direction             TEXT NOT NULL,
		step_percent          NUMERIC NOT NULL,
		step_quantity         NUMERIC NOT NULL,
		entry_price           NUMERIC NOT NULL DEFAULT 0,
		entry_offset_percent  NUMERIC NOT NULL DEFAULT 0,
		max_steps             INTEGER NOT NULL DEFAULT 0,
		max_quantity          NUMERIC NOT NULL DEFAULT 0,
		auto_take_profit      BOOLEAN NOT NULL DEFAULT FALSE,
		take_profit_percent   NUMERIC NOT NULL DEFAULT 0,
		tag_prefix            TEXT NOT NULL DEFAULT '',
		state                 TEXT NOT NULL,
		current_trigger_price NUMERIC NOT NULL DEFAULT 0,
		last_triggered_index  INTEGER NOT NULL DEFAULT -1,
		tp_order_id           TEXT NOT NULL DEFAULT '',
		tp_price              NUMERIC NOT NULL DEFAULT 0,
		tp_quantity           NUMERIC NOT NULL DEFAULT 0,
		tp_seq                INTEGER NOT NULL DEFAULT 0,
		tp_inconsistent       BOOLEAN NOT NULL DEFAULT FALSE,
		realized_exit         BOOLEAN NOT NULL DEFAULT FALSE,
		last_error            TEXT NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ladder_plans_state_idx ON ladder_plans (state)`,
	`CREATE TABLE IF NOT EXISTS ladder_steps (
		plan_id         TEXT NOT NULL REFERENCES ladder_plans (id) ON DELETE CASCADE,
		idx             INTEGER NOT NULL,
		planned_price   NUMERIC NOT NULL,
		quantity        NUMERIC NOT NULL,
		client_order_id TEXT NOT NULL,
		order_id        TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		filled_quantity NUMERIC NOT NULL DEFAULT 0,
		filled_price    NUMERIC NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (plan_id, idx)
	)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
