package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the order tables when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	customer_name  TEXT NOT NULL DEFAULT '',
	order_type     TEXT NOT NULL CHECK (order_type IN ('delivery', 'pickup')),
	status         TEXT NOT NULL,
	total_amount   NUMERIC NOT NULL DEFAULT 0,
	payment_status TEXT NOT NULL DEFAULT 'pending',
	version        BIGINT NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS orders_tenant_status_created_idx
	ON orders (tenant_id, status, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS order_items (
	order_id   TEXT NOT NULL REFERENCES orders(id),
	position   INT NOT NULL,
	name       TEXT NOT NULL,
	quantity   INT NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC NOT NULL,
	line_total NUMERIC NOT NULL,
	food_type  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS order_status_counts (
	tenant_id TEXT NOT NULL,
	status    TEXT NOT NULL,
	count     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, status)
);

CREATE TABLE IF NOT EXISTS order_status_log (
	id          BIGSERIAL PRIMARY KEY,
	order_id    TEXT NOT NULL REFERENCES orders(id),
	from_status TEXT,
	status      TEXT NOT NULL,
	version     BIGINT NOT NULL,
	changed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (order_id, version)
);
`
