// Package database opens the postgres pool and owns the schema definition.
// The schema is idempotent; Migrate applies it at startup and in integration
// tests.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // production driver
)

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema is the full DDL. Statements are idempotent so re-running is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	address     TEXT PRIMARY KEY,
	auth_addr   TEXT NOT NULL,
	min_balance BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_balances (
	address TEXT NOT NULL REFERENCES ledger_accounts(address) ON DELETE CASCADE,
	asset   BIGINT NOT NULL,
	balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	PRIMARY KEY (address, asset)
);

CREATE TABLE IF NOT EXISTS partner_channels (
	address    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS card_funds (
	address          TEXT PRIMARY KEY,
	owner            TEXT NOT NULL,
	partner_channel  TEXT NOT NULL,
	payment_nonce    BIGINT NOT NULL DEFAULT 0,
	withdrawal_nonce BIGINT NOT NULL DEFAULT 0,
	reference        TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS card_fund_index (
	index_key    BYTEA PRIMARY KEY,
	fund_address TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS channel_setups (
	initiator  TEXT NOT NULL,
	address    TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (initiator, address)
);

CREATE TABLE IF NOT EXISTS fund_setups (
	initiator       TEXT NOT NULL,
	address         TEXT NOT NULL,
	partner_channel TEXT NOT NULL,
	asset           BIGINT NOT NULL,
	reference       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (initiator, address)
);

CREATE TABLE IF NOT EXISTS settlement_addresses (
	asset      BIGINT PRIMARY KEY,
	address    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_counters (
	id               BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	settlement_nonce BIGINT NOT NULL DEFAULT 0
);
INSERT INTO payment_counters (id, settlement_nonce)
VALUES (TRUE, 0)
ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS withdrawal_requests (
	owner      TEXT NOT NULL,
	card_fund  TEXT NOT NULL,
	asset      BIGINT NOT NULL,
	amount     BIGINT NOT NULL,
	nonce      BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner, card_fund)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	action      TEXT NOT NULL,
	category    TEXT NOT NULL,
	actor       TEXT NOT NULL,
	subject     TEXT NOT NULL,
	asset       BIGINT NOT NULL DEFAULT 0,
	amount      BIGINT NOT NULL DEFAULT 0,
	nonce       BIGINT NOT NULL DEFAULT 0,
	reference   TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_subject_idx ON audit_events (subject, occurred_at);
`
