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

const (
	// Item queries
	queryUpsertItem = `
		INSERT INTO items (id, name, kind, commission_rate, commission_type, tier_a_owner, tier_b_owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			commission_rate = excluded.commission_rate,
			commission_type = excluded.commission_type,
			tier_a_owner = excluded.tier_a_owner,
			tier_b_owner = excluded.tier_b_owner,
			updated_at = excluded.updated_at`

	queryGetItem = `
		SELECT id, name, kind, commission_rate, commission_type, tier_a_owner, tier_b_owner, created_at, updated_at
		FROM items
		WHERE id = ?`

	// Transaction queries
	transactionColumns = `
		id, amount, status, item_id, item_kind, affiliate_ref, buyer_ref, source,
		COALESCE(external_id, ''), fingerprint, commission_rate, commission_type,
		created_at, paid_at, updated_at`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, amount, status, item_id, item_kind, affiliate_ref, buyer_ref, source,
			external_id, fingerprint, anonymous_fingerprint, commission_rate, commission_type,
			created_at, paid_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	queryFindTransactionByExternalId = `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE source = ? AND external_id = ?
		LIMIT 1`

	queryFindTransactionByFingerprint = `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE source = ? AND anonymous_fingerprint = ?
		LIMIT 1`

	queryUpdateTransactionStatus = `
		UPDATE transactions
		SET status = ?, paid_at = COALESCE(?, paid_at), updated_at = ?
		WHERE id = ? AND status = ?`

	queryCountTransactions = `SELECT COUNT(*) FROM transactions`

	queryTransactionAmountsByStatus = `SELECT amount FROM transactions WHERE status = ?`

	querySeenExternalIds = `
		SELECT external_id, status FROM transactions
		WHERE source = ? AND external_id IS NOT NULL AND external_id != ''`

	querySeenFingerprints = `
		SELECT anonymous_fingerprint FROM transactions
		WHERE source = ? AND anonymous_fingerprint IS NOT NULL`

	// Wallet queries
	walletColumns = `id, party_type, party_ref, balance, pending_balance, total_earnings, version, created_at, updated_at`

	queryInsertWallet = `
		INSERT INTO wallets (id, party_type, party_ref, balance, pending_balance, total_earnings, version, created_at, updated_at)
		VALUES (?, ?, ?, '0', '0', '0', 1, ?, ?)
		ON CONFLICT(party_type, party_ref) DO NOTHING`

	queryGetWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE id = ?`

	queryFindWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE party_type = ? AND party_ref = ?`

	queryListWallets = `SELECT ` + walletColumns + ` FROM wallets ORDER BY party_type, party_ref`

	queryUpdateWallet = `
		UPDATE wallets
		SET balance = ?, pending_balance = ?, total_earnings = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	// Ledger entry queries
	entryColumns = `id, wallet_id, amount, bucket, reason, source_ref, idempotency_key, created_at`

	queryInsertEntry = `
		INSERT INTO ledger_entries (id, wallet_id, amount, bucket, reason, source_ref, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryFindEntry = `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = ? AND idempotency_key = ?`

	queryEntriesByKey = `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE idempotency_key = ?
		ORDER BY created_at, id`

	queryWalletEntries = `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = ?
		ORDER BY created_at, id`

	queryWalletEntriesPage = `SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	// Conversion queries
	conversionColumns = `id, transaction_id, affiliate_ref, wallet_id, commission_amount, status, created_at, updated_at`

	queryInsertConversion = `
		INSERT INTO affiliate_conversions (id, transaction_id, affiliate_ref, wallet_id, commission_amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING`

	queryGetConversion = `SELECT ` + conversionColumns + ` FROM affiliate_conversions WHERE transaction_id = ?`

	queryUpdateConversionStatus = `
		UPDATE affiliate_conversions SET status = ?, updated_at = ? WHERE transaction_id = ?`

	// Payout queries
	payoutColumns = `id, wallet_id, amount, state, reason, created_at, updated_at`

	queryInsertPayout = `
		INSERT INTO payouts (id, wallet_id, amount, state, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryGetPayout = `SELECT ` + payoutColumns + ` FROM payouts WHERE id = ?`

	queryListPayouts = `SELECT ` + payoutColumns + ` FROM payouts WHERE wallet_id = ? ORDER BY created_at DESC`

	queryUpdatePayoutState = `
		UPDATE payouts SET state = ?, reason = ?, updated_at = ? WHERE id = ? AND state = ?`

	// Cursor queries
	queryGetCursor = `
		SELECT source, mode, next_offset, next_cursor, skipped_offsets, completed, halted, halt_reason, updated_at
		FROM reconciliation_cursors
		WHERE source = ?`

	queryFindHaltedCursor = `
		SELECT source, mode, next_offset, next_cursor, skipped_offsets, completed, halted, halt_reason, updated_at
		FROM reconciliation_cursors
		WHERE halted = 1
		ORDER BY updated_at
		LIMIT 1`

	querySaveCursor = `
		INSERT INTO reconciliation_cursors (source, mode, next_offset, next_cursor, skipped_offsets, completed, halted, halt_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			mode = excluded.mode,
			next_offset = excluded.next_offset,
			next_cursor = excluded.next_cursor,
			skipped_offsets = excluded.skipped_offsets,
			completed = excluded.completed,
			halted = excluded.halted,
			halt_reason = excluded.halt_reason,
			updated_at = excluded.updated_at`

	queryClearHalt = `
		UPDATE reconciliation_cursors SET halted = 0, halt_reason = '', updated_at = ? WHERE source = ?`
)
