package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates the tables used by the funds ledger, the event journal and
// the escrow state store.
// Every statement is idempotent so it can run on each startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS fund_balances (
	   account    TEXT PRIMARY KEY,
	   amount     BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
	   updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	 )`,
	`CREATE TABLE IF NOT EXISTS fund_allowances (
	   owner   TEXT NOT NULL,
	   spender TEXT NOT NULL,
	   amount  BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
	   PRIMARY KEY (owner, spender)
	 )`,
	`CREATE TABLE IF NOT EXISTS escrow_events (
	   id            UUID PRIMARY KEY,
	   type          TEXT NOT NULL,
	   job_id        BIGINT,
	   actor         TEXT NOT NULL,
	   counterparty  TEXT,
	   amount        BIGINT NOT NULL DEFAULT 0,
	   fee           BIGINT NOT NULL DEFAULT 0,
	   detail        TEXT,
	   occurred_at   TIMESTAMPTZ NOT NULL,
	   recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	 )`,
	`CREATE INDEX IF NOT EXISTS escrow_events_job_id_idx ON escrow_events (job_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS escrow_meta (
	   id           SMALLINT PRIMARY KEY CHECK (id = 1),
	   next_job_id  BIGINT NOT NULL,
	   accrued_fees BIGINT NOT NULL DEFAULT 0,
	   config       JSONB NOT NULL,
	   updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	 )`,
	`CREATE TABLE IF NOT EXISTS escrow_jobs (
	   id                  BIGINT PRIMARY KEY,
	   client              TEXT NOT NULL,
	   deposit_amount      BIGINT NOT NULL,
	   expires_at          TIMESTAMPTZ NOT NULL,
	   state               TEXT NOT NULL,
	   selected_freelancer TEXT,
	   reward              BIGINT NOT NULL DEFAULT 0,
	   applicants          TEXT[] NOT NULL DEFAULT '{}',
	   created_at          TIMESTAMPTZ NOT NULL,
	   updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	 )`,
	`CREATE TABLE IF NOT EXISTS escrow_freelancers (
	   identity             TEXT PRIMARY KEY,
	   is_registered        BOOLEAN NOT NULL DEFAULT FALSE,
	   is_approved          BOOLEAN NOT NULL DEFAULT FALSE,
	   total_earned         BIGINT NOT NULL DEFAULT 0,
	   completed_jobs       BIGINT NOT NULL DEFAULT 0,
	   withdrawable_balance BIGINT NOT NULL DEFAULT 0
	 )`,
	`CREATE TABLE IF NOT EXISTS escrow_certificates (
	   job_id BIGINT PRIMARY KEY,
	   owner  TEXT NOT NULL
	 )`,
}

// EnsureSchema applies the schema statements in a single transaction.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit(ctx)
}
