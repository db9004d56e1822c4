package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the courier store.
// It can be registered with the grove extension for orchestrated migration
// management (locking, version tracking, rollback support).
var Migrations = migrate.NewGroup("courier")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_courier_endpoints",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_endpoints (
    id          TEXT PRIMARY KEY,
    owner_id    TEXT NOT NULL,
    url         TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    secret      TEXT NOT NULL,
    event_types TEXT[] NOT NULL DEFAULT '{}',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    rate_limit  INT NOT NULL DEFAULT 0,
    metadata    JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_courier_endpoints_owner ON courier_endpoints (owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_courier_endpoints_types ON courier_endpoints USING GIN (event_types) WHERE active;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_endpoints`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_courier_delivery_logs",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS courier_delivery_logs (
    id                 TEXT PRIMARY KEY,
    endpoint_id        TEXT NOT NULL,
    payload_id         TEXT NOT NULL,
    event_type         TEXT NOT NULL,
    payload            TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'pending',
    last_status_code   INT NOT NULL DEFAULT 0,
    last_response_body TEXT NOT NULL DEFAULT '',
    last_error         TEXT NOT NULL DEFAULT '',
    last_latency_ms    INT NOT NULL DEFAULT 0,
    attempt            INT NOT NULL DEFAULT 1,
    max_attempts       INT NOT NULL DEFAULT 1,
    next_retry_at      TIMESTAMPTZ,
    delivered_at       TIMESTAMPTZ,
    version            BIGINT NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (endpoint_id, payload_id)
);

CREATE INDEX IF NOT EXISTS idx_courier_logs_endpoint ON courier_delivery_logs (endpoint_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_courier_logs_retry ON courier_delivery_logs (next_retry_at) WHERE status = 'retrying';
CREATE INDEX IF NOT EXISTS idx_courier_logs_terminal ON courier_delivery_logs (updated_at) WHERE status IN ('delivered', 'failed');
CREATE INDEX IF NOT EXISTS idx_courier_logs_pending ON courier_delivery_logs (updated_at) WHERE status = 'pending';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS courier_delivery_logs`)
				return err
			},
		},
	)
}
