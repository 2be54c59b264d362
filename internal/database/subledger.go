/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revshare-ledger-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Compile-time check: *subledgerTx must satisfy store.Tx.
var _ store.Tx = (*subledgerTx)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx so read helpers can be
// shared between the service and a unit of work.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// subledgerTx is one unit of work over the subledger tables.
type subledgerTx struct {
	tx *sql.Tx
}

func initSchema(ctx context.Context, db queryer) error {
	schema := `
	-- Catalog items with their commission snapshot source
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		commission_type TEXT NOT NULL,
		tier_a_owner TEXT NOT NULL DEFAULT '',
		tier_b_owner TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Canonical transactions (imported or native)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_kind TEXT NOT NULL,
		affiliate_ref TEXT NOT NULL DEFAULT '',
		buyer_ref TEXT NOT NULL,
		source TEXT NOT NULL,
		external_id TEXT,
		fingerprint TEXT NOT NULL,
		anonymous_fingerprint TEXT,
		commission_rate TEXT NOT NULL,
		commission_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		paid_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(source, external_id),
		UNIQUE(source, anonymous_fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_fingerprint ON transactions(source, fingerprint);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);

	-- Affiliate conversions, at most one per transaction
	CREATE TABLE IF NOT EXISTS affiliate_conversions (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(id),
		affiliate_ref TEXT NOT NULL,
		wallet_id TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Wallet balances (current state, hot data)
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		party_type TEXT NOT NULL,
		party_ref TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		pending_balance TEXT NOT NULL DEFAULT '0',
		total_earnings TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(party_type, party_ref)
	);

	-- Ledger entries (append-only audit trail, cold data)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		amount TEXT NOT NULL,
		bucket TEXT NOT NULL,
		reason TEXT NOT NULL,
		source_ref TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(wallet_id, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON ledger_entries(wallet_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_key ON ledger_entries(idempotency_key);

	-- Payout requests
	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_wallet ON payouts(wallet_id);

	-- Reconciliation checkpoints, one per source
	CREATE TABLE IF NOT EXISTS reconciliation_cursors (
		source TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		next_offset INTEGER NOT NULL DEFAULT 0,
		next_cursor TEXT NOT NULL DEFAULT '',
		skipped_offsets TEXT NOT NULL DEFAULT '[]',
		completed BOOLEAN NOT NULL DEFAULT 0,
		halted BOOLEAN NOT NULL DEFAULT 0,
		halt_reason TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s '%s': %w", field, value, err)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
