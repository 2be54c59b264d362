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
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApprovePending writes two entries under these key suffixes.
const (
	approveOutSuffix = ":out"
	approveInSuffix  = ":in"
)

type walletDelta struct {
	available decimal.Decimal
	pending   decimal.Decimal
	earnings  decimal.Decimal
}

func (t *subledgerTx) EnsureWallet(ctx context.Context, party models.PartyType, ref string) (*models.Wallet, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: wallet party ref cannot be empty", store.ErrValidation)
	}
	now := time.Now().UTC()
	if _, err := t.tx.ExecContext(ctx, queryInsertWallet, uuid.New().String(), string(party), ref, now, now); err != nil {
		return nil, fmt.Errorf("failed to create wallet for %s/%s: %w", party, ref, err)
	}
	return findWallet(ctx, t.tx, party, ref)
}

func (t *subledgerTx) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	return getWallet(ctx, t.tx, walletId)
}

func (t *subledgerTx) FindEntry(ctx context.Context, walletId, idempotencyKey string) (*models.LedgerEntry, error) {
	return findEntry(ctx, t.tx, walletId, idempotencyKey)
}

func (t *subledgerTx) FindEntriesByKey(ctx context.Context, idempotencyKey string) ([]models.LedgerEntry, error) {
	return listEntries(ctx, t.tx, queryEntriesByKey, idempotencyKey)
}

// Credit adds a positive entry to the available or pending bucket and raises
// total earnings by the same amount.
func (t *subledgerTx) Credit(ctx context.Context, params store.CreditParams) (*models.LedgerEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit amount must be positive, got %s", store.ErrValidation, params.Amount)
	}

	bucket := models.BucketPending
	delta := walletDelta{pending: params.Amount, earnings: params.Amount}
	if params.Immediate {
		bucket = models.BucketAvailable
		delta = walletDelta{available: params.Amount, earnings: params.Amount}
	}

	return t.applyEntry(ctx, params.WalletId, params.IdempotencyKey, &models.LedgerEntry{
		Amount:    params.Amount,
		Bucket:    bucket,
		Reason:    models.ReasonCredit,
		SourceRef: params.SourceRef,
	}, delta, nil)
}

// ApprovePending moves amount from the pending bucket to the available bucket.
func (t *subledgerTx) ApprovePending(ctx context.Context, walletId string, amount decimal.Decimal, idempotencyKey string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: approve amount must be positive, got %s", store.ErrValidation, amount)
	}

	if _, err := t.FindEntry(ctx, walletId, idempotencyKey+approveInSuffix); err == nil {
		zap.L().Debug("Approval already applied", zap.String("wallet_id", walletId), zap.String("idempotency_key", idempotencyKey))
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	wallet, err := t.GetWallet(ctx, walletId)
	if err != nil {
		return err
	}
	if wallet.PendingBalance.LessThan(amount) {
		return fmt.Errorf("%w: wallet %s pending %s < %s", store.ErrInsufficientFunds, walletId, wallet.PendingBalance, amount)
	}

	now := time.Now().UTC()
	out := &models.LedgerEntry{
		Id:             uuid.New().String(),
		WalletId:       walletId,
		Amount:         amount.Neg(),
		Bucket:         models.BucketPending,
		Reason:         models.ReasonApprove,
		SourceRef:      idempotencyKey,
		IdempotencyKey: idempotencyKey + approveOutSuffix,
		CreatedAt:      now,
	}
	in := &models.LedgerEntry{
		Id:             uuid.New().String(),
		WalletId:       walletId,
		Amount:         amount,
		Bucket:         models.BucketAvailable,
		Reason:         models.ReasonApprove,
		SourceRef:      idempotencyKey,
		IdempotencyKey: idempotencyKey + approveInSuffix,
		CreatedAt:      now,
	}
	for _, entry := range []*models.LedgerEntry{out, in} {
		if err := insertEntry(ctx, t.tx, entry); err != nil {
			return err
		}
	}

	if err := updateWallet(ctx, t.tx, wallet, walletDelta{available: amount, pending: amount.Neg()}); err != nil {
		return err
	}

	zap.L().Info("Pending balance approved",
		zap.String("wallet_id", walletId),
		zap.String("amount", amount.String()))
	return nil
}

// Reverse writes a compensating negative entry against the available bucket
// and lowers total earnings. The balance is allowed to go negative.
func (t *subledgerTx) Reverse(ctx context.Context, params store.ReverseParams) (*models.LedgerEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: reversal amount must be positive, got %s", store.ErrValidation, params.Amount)
	}
	reason := params.Reason
	if reason == "" {
		reason = models.ReasonRefund
	}

	return t.applyEntry(ctx, params.WalletId, params.IdempotencyKey, &models.LedgerEntry{
		Amount:    params.Amount.Neg(),
		Bucket:    models.BucketAvailable,
		Reason:    reason,
		SourceRef: params.SourceRef,
	}, walletDelta{available: params.Amount.Neg(), earnings: params.Amount.Neg()}, nil)
}

// Reserve holds amount out of the available balance for a payout.
func (t *subledgerTx) Reserve(ctx context.Context, params store.ReserveParams) (*models.LedgerEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: reserve amount must be positive, got %s", store.ErrValidation, params.Amount)
	}

	return t.applyEntry(ctx, params.WalletId, params.IdempotencyKey, &models.LedgerEntry{
		Amount:    params.Amount.Neg(),
		Bucket:    models.BucketAvailable,
		Reason:    models.ReasonReserved,
		SourceRef: params.SourceRef,
	}, walletDelta{available: params.Amount.Neg()}, func(w *models.Wallet) error {
		if w.Balance.LessThan(params.Amount) {
			return fmt.Errorf("%w: wallet %s balance %s < %s", store.ErrInsufficientFunds, w.Id, w.Balance, params.Amount)
		}
		return nil
	})
}

// Release returns a previously reserved amount to the available balance.
func (t *subledgerTx) Release(ctx context.Context, params store.ReserveParams) (*models.LedgerEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: release amount must be positive, got %s", store.ErrValidation, params.Amount)
	}

	return t.applyEntry(ctx, params.WalletId, params.IdempotencyKey, &models.LedgerEntry{
		Amount:    params.Amount,
		Bucket:    models.BucketAvailable,
		Reason:    models.ReasonReleased,
		SourceRef: params.SourceRef,
	}, walletDelta{available: params.Amount}, nil)
}

// applyEntry is the shared idempotent write path: a replayed key returns the
// original entry untouched, otherwise the entry is appended and the wallet
// row is updated under its version guard.
func (t *subledgerTx) applyEntry(
	ctx context.Context,
	walletId, idempotencyKey string,
	entry *models.LedgerEntry,
	delta walletDelta,
	check func(*models.Wallet) error,
) (*models.LedgerEntry, error) {
	if idempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key cannot be empty", store.ErrValidation)
	}

	existing, err := t.FindEntry(ctx, walletId, idempotencyKey)
	if err == nil {
		if !existing.Amount.Equal(entry.Amount) {
			zap.L().Warn("Idempotency key replayed with a different amount",
				zap.String("wallet_id", walletId),
				zap.String("idempotency_key", idempotencyKey),
				zap.String("original_amount", existing.Amount.String()),
				zap.String("replayed_amount", entry.Amount.String()))
		}
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	wallet, err := t.GetWallet(ctx, walletId)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(wallet); err != nil {
			return nil, err
		}
	}

	entry.Id = uuid.New().String()
	entry.WalletId = walletId
	entry.IdempotencyKey = idempotencyKey
	entry.CreatedAt = time.Now().UTC()
	if err := insertEntry(ctx, t.tx, entry); err != nil {
		if isUniqueViolation(err) {
			return t.FindEntry(ctx, walletId, idempotencyKey)
		}
		return nil, err
	}

	if err := updateWallet(ctx, t.tx, wallet, delta); err != nil {
		return nil, err
	}

	zap.L().Debug("Ledger entry applied",
		zap.String("wallet_id", walletId),
		zap.String("bucket", string(entry.Bucket)),
		zap.String("reason", entry.Reason),
		zap.String("amount", entry.Amount.String()),
		zap.String("idempotency_key", idempotencyKey))
	return entry, nil
}

// VerifyWallet fails with ErrInvariantViolation when the wallet row disagrees
// with its own entries.
func (t *subledgerTx) VerifyWallet(ctx context.Context, walletId string) error {
	audit, err := auditWallet(ctx, t.tx, walletId)
	if err != nil {
		return err
	}
	if !audit.Consistent {
		return fmt.Errorf("%w: wallet %s balance=%s pending=%s ledger_available=%s ledger_pending=%s",
			store.ErrInvariantViolation, walletId,
			audit.Balance, audit.PendingBalance, audit.LedgerAvailable, audit.LedgerPending)
	}
	return nil
}

func insertEntry(ctx context.Context, q queryer, e *models.LedgerEntry) error {
	_, err := q.ExecContext(ctx, queryInsertEntry,
		e.Id, e.WalletId, e.Amount.String(), string(e.Bucket), e.Reason, e.SourceRef, e.IdempotencyKey, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// updateWallet applies delta to w under the optimistic version lock.
func updateWallet(ctx context.Context, q queryer, w *models.Wallet, delta walletDelta) error {
	balance := w.Balance.Add(delta.available)
	pending := w.PendingBalance.Add(delta.pending)
	earnings := w.TotalEarnings.Add(delta.earnings)
	now := time.Now().UTC()

	result, err := q.ExecContext(ctx, queryUpdateWallet,
		balance.String(), pending.String(), earnings.String(), now, w.Id, w.Version)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("wallet %s update failed - %w", w.Id, store.ErrConcurrentModification)
	}

	w.Balance = balance
	w.PendingBalance = pending
	w.TotalEarnings = earnings
	w.Version++
	w.UpdatedAt = now
	return nil
}

func scanWallet(row interface{ Scan(...any) error }) (*models.Wallet, error) {
	var w models.Wallet
	var partyType, balanceStr, pendingStr, earningsStr string
	if err := row.Scan(&w.Id, &partyType, &w.PartyRef, &balanceStr, &pendingStr, &earningsStr,
		&w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.PartyType = models.PartyType(partyType)

	var err error
	if w.Balance, err = parseDecimal("balance", balanceStr); err != nil {
		return nil, err
	}
	if w.PendingBalance, err = parseDecimal("pending_balance", pendingStr); err != nil {
		return nil, err
	}
	if w.TotalEarnings, err = parseDecimal("total_earnings", earningsStr); err != nil {
		return nil, err
	}
	return &w, nil
}

func getWallet(ctx context.Context, q queryer, walletId string) (*models.Wallet, error) {
	w, err := scanWallet(q.QueryRowContext(ctx, queryGetWallet, walletId))
	if err != nil {
		return nil, notFound(err, "wallet %s", walletId)
	}
	return w, nil
}

func findWallet(ctx context.Context, q queryer, party models.PartyType, ref string) (*models.Wallet, error) {
	w, err := scanWallet(q.QueryRowContext(ctx, queryFindWallet, string(party), ref))
	if err != nil {
		return nil, notFound(err, "wallet %s/%s", party, ref)
	}
	return w, nil
}

func scanEntry(row interface{ Scan(...any) error }) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var amountStr, bucket string
	if err := row.Scan(&e.Id, &e.WalletId, &amountStr, &bucket, &e.Reason, &e.SourceRef,
		&e.IdempotencyKey, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Bucket = models.LedgerBucket(bucket)

	var err error
	if e.Amount, err = parseDecimal("amount", amountStr); err != nil {
		return nil, err
	}
	return &e, nil
}

func findEntry(ctx context.Context, q queryer, walletId, idempotencyKey string) (*models.LedgerEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, queryFindEntry, walletId, idempotencyKey))
	if err != nil {
		return nil, notFound(err, "ledger entry %s/%s", walletId, idempotencyKey)
	}
	return e, nil
}

func listEntries(ctx context.Context, q queryer, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// auditWallet recomputes the wallet's buckets and earnings from its entries.
func auditWallet(ctx context.Context, q queryer, walletId string) (*models.WalletAudit, error) {
	wallet, err := getWallet(ctx, q, walletId)
	if err != nil {
		return nil, err
	}
	entries, err := listEntries(ctx, q, queryWalletEntries, walletId)
	if err != nil {
		return nil, err
	}

	audit := &models.WalletAudit{
		WalletId:        walletId,
		Balance:         wallet.Balance,
		PendingBalance:  wallet.PendingBalance,
		TotalEarnings:   wallet.TotalEarnings,
		LedgerSum:       decimal.Zero,
		LedgerAvailable: decimal.Zero,
		LedgerPending:   decimal.Zero,
		LedgerEarnings:  decimal.Zero,
	}
	for _, e := range entries {
		audit.LedgerSum = audit.LedgerSum.Add(e.Amount)
		switch e.Bucket {
		case models.BucketAvailable:
			audit.LedgerAvailable = audit.LedgerAvailable.Add(e.Amount)
		case models.BucketPending:
			audit.LedgerPending = audit.LedgerPending.Add(e.Amount)
		}
		if movesEarnings(e.Reason) {
			audit.LedgerEarnings = audit.LedgerEarnings.Add(e.Amount)
		}
	}

	audit.Consistent = wallet.Balance.Add(wallet.PendingBalance).Equal(audit.LedgerSum) &&
		wallet.Balance.Equal(audit.LedgerAvailable) &&
		wallet.PendingBalance.Equal(audit.LedgerPending) &&
		wallet.TotalEarnings.Equal(audit.LedgerEarnings)
	return audit, nil
}

// movesEarnings is false for entries that only shift money inside a wallet.
func movesEarnings(reason string) bool {
	switch reason {
	case models.ReasonApprove, models.ReasonReserved, models.ReasonReleased:
		return false
	}
	return true
}
