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

package payout

import (
	"context"
	"errors"
	"fmt"

	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Processor runs the payout state machine:
//
//	PENDING -> APPROVED -> PROCESSING -> COMPLETED
//	PENDING | APPROVED -> REJECTED
//
// Approval reserves the amount out of the wallet balance; rejecting an
// approved payout releases it; completion leaves the reservation in place as
// the permanent debit.
type Processor struct {
	store   store.LedgerStore
	metrics *metrics.Metrics
}

func NewProcessor(s store.LedgerStore, m *metrics.Metrics) *Processor {
	return &Processor{store: s, metrics: m}
}

func reserveKey(payoutId string) string { return "payout:" + payoutId + ":reserve" }
func releaseKey(payoutId string) string { return "payout:" + payoutId + ":release" }

// Request opens a PENDING payout. The wallet must hold at least amount now.
func (p *Processor) Request(ctx context.Context, walletId string, amount decimal.Decimal) (*models.Payout, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payout amount must be positive, got %s", store.ErrValidation, amount)
	}

	payout := &models.Payout{
		Id:       uuid.New().String(),
		WalletId: walletId,
		Amount:   amount,
		State:    models.PayoutPending,
	}
	err := p.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := ensureNotHalted(ctx, tx); err != nil {
			return err
		}
		wallet, err := tx.GetWallet(ctx, walletId)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(amount) {
			return fmt.Errorf("%w: wallet %s balance %s < %s", store.ErrInsufficientFunds, walletId, wallet.Balance, amount)
		}
		return tx.InsertPayout(ctx, payout)
	})
	if err != nil {
		return nil, fmt.Errorf("payout request failed: %w", err)
	}

	p.metrics.ObservePayout(string(models.PayoutPending))
	zap.L().Info("Payout requested",
		zap.String("payout_id", payout.Id),
		zap.String("wallet_id", walletId),
		zap.String("amount", amount.String()))
	return payout, nil
}

// Approve reserves the payout amount. A concurrent approval against the same
// funds fails with ErrInsufficientFunds.
func (p *Processor) Approve(ctx context.Context, payoutId string) (*models.Payout, error) {
	return p.transition(ctx, payoutId, models.PayoutApproved, "", func(tx store.Tx, payout *models.Payout) error {
		if payout.State != models.PayoutPending {
			return invalid(payout, models.PayoutApproved)
		}
		_, err := tx.Reserve(ctx, store.ReserveParams{
			WalletId:       payout.WalletId,
			Amount:         payout.Amount,
			SourceRef:      payout.Id,
			IdempotencyKey: reserveKey(payout.Id),
		})
		return err
	})
}

// Reject ends a PENDING or APPROVED payout, releasing any reservation.
func (p *Processor) Reject(ctx context.Context, payoutId, reason string) (*models.Payout, error) {
	return p.transition(ctx, payoutId, models.PayoutRejected, reason, func(tx store.Tx, payout *models.Payout) error {
		switch payout.State {
		case models.PayoutPending:
			return nil
		case models.PayoutApproved:
			_, err := tx.Release(ctx, store.ReserveParams{
				WalletId:       payout.WalletId,
				Amount:         payout.Amount,
				SourceRef:      payout.Id,
				IdempotencyKey: releaseKey(payout.Id),
			})
			return err
		}
		return invalid(payout, models.PayoutRejected)
	})
}

// StartProcessing hands an approved payout to the disbursement rail.
func (p *Processor) StartProcessing(ctx context.Context, payoutId string) (*models.Payout, error) {
	return p.transition(ctx, payoutId, models.PayoutProcessing, "", func(_ store.Tx, payout *models.Payout) error {
		if payout.State != models.PayoutApproved {
			return invalid(payout, models.PayoutProcessing)
		}
		return nil
	})
}

// Complete finalizes a processing payout. The reserved entry stays as the
// debit, so no ledger entry is written.
func (p *Processor) Complete(ctx context.Context, payoutId string) (*models.Payout, error) {
	return p.transition(ctx, payoutId, models.PayoutCompleted, "", func(_ store.Tx, payout *models.Payout) error {
		if payout.State != models.PayoutProcessing {
			return invalid(payout, models.PayoutCompleted)
		}
		return nil
	})
}

// ApproveEarnings moves held earnings from a wallet's pending bucket into its
// spendable balance.
func (p *Processor) ApproveEarnings(ctx context.Context, walletId string, amount decimal.Decimal, idempotencyKey string) error {
	return p.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := ensureNotHalted(ctx, tx); err != nil {
			return err
		}
		if err := tx.ApprovePending(ctx, walletId, amount, idempotencyKey); err != nil {
			return err
		}
		return tx.VerifyWallet(ctx, walletId)
	})
}

func (p *Processor) transition(
	ctx context.Context,
	payoutId string,
	to models.PayoutState,
	reason string,
	apply func(tx store.Tx, payout *models.Payout) error,
) (*models.Payout, error) {
	var result *models.Payout
	err := p.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := ensureNotHalted(ctx, tx); err != nil {
			return err
		}
		payout, err := tx.GetPayout(ctx, payoutId)
		if err != nil {
			return err
		}
		from := payout.State
		if err := apply(tx, payout); err != nil {
			return err
		}
		if err := tx.UpdatePayoutState(ctx, payoutId, from, to, reason); err != nil {
			return err
		}
		if err := tx.VerifyWallet(ctx, payout.WalletId); err != nil {
			return err
		}
		payout.State = to
		payout.Reason = reason
		result = payout
		return nil
	})
	if err != nil {
		zap.L().Warn("Payout transition failed",
			zap.String("payout_id", payoutId),
			zap.String("to", string(to)),
			zap.Error(err))
		return nil, fmt.Errorf("payout %s -> %s: %w", payoutId, to, err)
	}

	p.metrics.ObservePayout(string(to))
	zap.L().Info("Payout transitioned",
		zap.String("payout_id", payoutId),
		zap.String("wallet_id", result.WalletId),
		zap.String("state", string(to)),
		zap.String("amount", result.Amount.String()))
	return result, nil
}

// ensureNotHalted refuses wallet writes while a reconciliation halt is
// waiting for manual review.
func ensureNotHalted(ctx context.Context, tx store.Tx) error {
	halted, err := tx.FindHaltedCursor(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	return fmt.Errorf("%w: source %s: %s", store.ErrHalted, halted.Source, halted.HaltReason)
}

func invalid(payout *models.Payout, to models.PayoutState) error {
	return fmt.Errorf("%w: payout %s is %s, cannot move to %s", store.ErrInvalidTransition, payout.Id, payout.State, to)
}
