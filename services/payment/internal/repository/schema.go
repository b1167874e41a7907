package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		payment_id     VARCHAR(64) PRIMARY KEY,
		reservation_id VARCHAR(64) NOT NULL,
		order_id       VARCHAR(64),
		payment_key    VARCHAR(200),
		transaction_id VARCHAR(200),
		amount         BIGINT NOT NULL CHECK (amount > 0),
		method         VARCHAR(32),
		check_in_date  TIMESTAMPTZ NOT NULL,
		status         VARCHAR(20) NOT NULL,
		failure_reason TEXT,
		version        BIGINT NOT NULL DEFAULT 0,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_reservation_id ON payments (reservation_id);`,
	`CREATE TABLE IF NOT EXISTS refunds (
		refund_id       VARCHAR(64) PRIMARY KEY,
		payment_id      VARCHAR(64) NOT NULL REFERENCES payments (payment_id),
		original_amount BIGINT NOT NULL,
		refund_amount   BIGINT NOT NULL,
		reason          TEXT,
		status          VARCHAR(20) NOT NULL,
		transaction_id  VARCHAR(200),
		failure_message TEXT,
		completed_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		CHECK (refund_amount > 0 AND refund_amount <= original_amount)
	);`,
	// 결제당 실패하지 않은 환불은 하나만 존재
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_refunds_active_payment ON refunds (payment_id) WHERE status <> 'FAILED';`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id   VARCHAR(64) NOT NULL,
		event_type     VARCHAR(100) NOT NULL,
		event_key      VARCHAR(64),
		payload        JSONB NOT NULL,
		status         VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		created_at     TIMESTAMPTZ NOT NULL,
		sent_at        TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS ix_outbox_events_pending ON outbox_events (created_at) WHERE status = 'PENDING';`,
}

// CreateTables 테이블 및 인덱스 생성 (멱등)
func CreateTables(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
