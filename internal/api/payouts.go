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

package api

import (
	"context"
	"errors"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
)

func (s *LedgerService) RequestPayout(ctx context.Context, req models.PayoutRequest) (*models.Payout, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	payout, err := s.payouts.Request(ctx, req.WalletId, amount)
	if err != nil {
		logPayoutFailure("request", req.WalletId, err)
		return nil, err
	}
	return payout, nil
}

func (s *LedgerService) ApprovePayout(ctx context.Context, payoutId string) (*models.Payout, error) {
	payout, err := s.payouts.Approve(ctx, payoutId)
	if err != nil {
		logPayoutFailure("approve", payoutId, err)
	}
	return payout, err
}

func (s *LedgerService) RejectPayout(ctx context.Context, payoutId, reason string) (*models.Payout, error) {
	payout, err := s.payouts.Reject(ctx, payoutId, reason)
	if err != nil {
		logPayoutFailure("reject", payoutId, err)
	}
	return payout, err
}

func (s *LedgerService) ProcessPayout(ctx context.Context, payoutId string) (*models.Payout, error) {
	payout, err := s.payouts.StartProcessing(ctx, payoutId)
	if err != nil {
		logPayoutFailure("process", payoutId, err)
	}
	return payout, err
}

func (s *LedgerService) CompletePayout(ctx context.Context, payoutId string) (*models.Payout, error) {
	payout, err := s.payouts.Complete(ctx, payoutId)
	if err != nil {
		logPayoutFailure("complete", payoutId, err)
	}
	return payout, err
}

func (s *LedgerService) GetPayout(ctx context.Context, payoutId string) (*models.Payout, error) {
	return s.db.GetPayout(ctx, payoutId)
}

func (s *LedgerService) ListPayouts(ctx context.Context, walletId string) ([]models.Payout, error) {
	if _, err := s.db.GetWallet(ctx, walletId); err != nil {
		return nil, err
	}
	return s.db.ListPayouts(ctx, walletId)
}

// logPayoutFailure keeps business refusals at info level; anything else is
// an error.
func logPayoutFailure(action, ref string, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrNotFound):
		zap.L().Info("Payout refused",
			zap.String("action", action),
			zap.String("ref", ref),
			zap.Error(err))
	default:
		zap.L().Error("Payout failed",
			zap.String("action", action),
			zap.String("ref", ref),
			zap.Error(err))
	}
}
