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

package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/split"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Idempotency key suffixes for the non-affiliate shares.
const (
	keyPlatform = ":platform"
	keyTierA    = ":tier_a"
	keyTierB    = ":tier_b"
	keyReversal = ":reversal"
)

// Recorder turns successful sales into conversions and wallet credits, and
// refunds into the matching reversals. It never commits: callers pass the
// unit of work the effects belong to.
type Recorder struct {
	rates              split.Rates
	platformRef        string
	ownerSharesPending bool
}

// Distribution is what one recorded sale paid out.
type Distribution struct {
	Split      split.Result
	Conversion *models.AffiliateConversion
	Created    bool
	// Touched lists every wallet the sale wrote to.
	Touched []string
}

func NewRecorder(splitCfg models.SplitConfig, ledgerCfg models.LedgerConfig) (*Recorder, error) {
	rates := split.RatesFromConfig(splitCfg)
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if splitCfg.PlatformParty == "" {
		return nil, fmt.Errorf("%w: platform party cannot be empty", store.ErrConfiguration)
	}
	return &Recorder{
		rates:              rates,
		platformRef:        splitCfg.PlatformParty,
		ownerSharesPending: ledgerCfg.OwnerSharesPending,
	}, nil
}

// Record distributes a SUCCESS transaction. Recording the same transaction
// twice returns the existing conversion and writes nothing new.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, txn *models.Transaction) (*Distribution, error) {
	if txn.Status != models.StatusSuccess {
		return nil, fmt.Errorf("%w: transaction %s is %s, not SUCCESS", store.ErrValidation, txn.Id, txn.Status)
	}

	item, err := tx.GetItem(ctx, txn.ItemId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %s references unknown item %s", store.ErrValidation, txn.Id, txn.ItemId)
		}
		return nil, err
	}

	result, err := split.Calculate(txn.Amount, txn.Commission, txn.HasAffiliate(), r.rates)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txn.Id, err)
	}
	if err := result.Verify(txn.Amount); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txn.Id, err)
	}

	dist := &Distribution{Split: result}

	if txn.HasAffiliate() {
		wallet, err := tx.EnsureWallet(ctx, models.PartyAffiliate, txn.AffiliateRef)
		if err != nil {
			return nil, err
		}
		conv, created, err := tx.CreateConversion(ctx, &models.AffiliateConversion{
			TransactionId:    txn.Id,
			AffiliateRef:     txn.AffiliateRef,
			WalletId:         wallet.Id,
			CommissionAmount: result.AffiliateShare,
			Status:           models.ConversionApproved,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create conversion for %s: %w", txn.Id, err)
		}
		dist.Conversion = conv
		dist.Created = created

		if !created {
			zap.L().Debug("Conversion already recorded, skipping distribution",
				zap.String("transaction_id", txn.Id))
			return dist, nil
		}

		if result.AffiliateShare.IsPositive() {
			if _, err := tx.Credit(ctx, store.CreditParams{
				WalletId:       wallet.Id,
				Amount:         result.AffiliateShare,
				Immediate:      true,
				SourceRef:      txn.Id,
				IdempotencyKey: txn.Id,
			}); err != nil {
				return nil, fmt.Errorf("failed to credit affiliate for %s: %w", txn.Id, err)
			}
			dist.Touched = append(dist.Touched, wallet.Id)
		}
	}

	for _, share := range r.ownerShares(item, result) {
		walletId, err := r.creditShare(ctx, tx, txn.Id, share)
		if err != nil {
			return nil, err
		}
		if walletId != "" {
			dist.Touched = append(dist.Touched, walletId)
		}
	}

	zap.L().Info("Sale distributed",
		zap.String("transaction_id", txn.Id),
		zap.String("amount", txn.Amount.String()),
		zap.String("affiliate_share", result.AffiliateShare.String()),
		zap.String("platform_fee", result.PlatformFee.String()),
		zap.String("tier_a_share", result.TierAShare.String()),
		zap.String("tier_b_share", result.TierBShare.String()))
	return dist, nil
}

// Reverse undoes the distribution of a transaction that left SUCCESS. It
// returns the wallets it wrote to.
func (r *Recorder) Reverse(ctx context.Context, tx store.Tx, txn *models.Transaction) ([]string, error) {
	var touched []string

	if txn.HasAffiliate() {
		conv, err := tx.GetConversion(ctx, txn.Id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			zap.L().Warn("No conversion to reverse", zap.String("transaction_id", txn.Id))
		case err != nil:
			return nil, err
		default:
			if conv.Status != models.ConversionReversed {
				if err := tx.UpdateConversionStatus(ctx, txn.Id, models.ConversionReversed); err != nil {
					return nil, err
				}
			}
			if conv.CommissionAmount.IsPositive() {
				if _, err := tx.Reverse(ctx, store.ReverseParams{
					WalletId:       conv.WalletId,
					Amount:         conv.CommissionAmount,
					Reason:         models.ReasonRefund,
					SourceRef:      txn.Id,
					IdempotencyKey: txn.Id + keyReversal,
				}); err != nil {
					return nil, fmt.Errorf("failed to reverse affiliate share for %s: %w", txn.Id, err)
				}
				touched = append(touched, conv.WalletId)
			}
		}
	}

	for _, suffix := range []string{keyPlatform, keyTierA, keyTierB} {
		key := txn.Id + suffix
		entries, err := tx.FindEntriesByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if _, err := tx.Reverse(ctx, store.ReverseParams{
				WalletId:       entry.WalletId,
				Amount:         entry.Amount,
				Reason:         models.ReasonRefund,
				SourceRef:      txn.Id,
				IdempotencyKey: key + keyReversal,
			}); err != nil {
				return nil, fmt.Errorf("failed to reverse %s share for %s: %w", suffix[1:], txn.Id, err)
			}
			touched = append(touched, entry.WalletId)
		}
	}

	zap.L().Info("Sale reversed",
		zap.String("transaction_id", txn.Id),
		zap.String("status", string(txn.Status)),
		zap.Int("wallets", len(touched)))
	return touched, nil
}

// Transition moves a stored transaction to next and applies the wallet
// effects of that move. It returns the wallets it wrote to.
func (r *Recorder) Transition(ctx context.Context, tx store.Tx, txn *models.Transaction, next models.TransactionStatus, at time.Time) ([]string, error) {
	prev := txn.Status
	if err := tx.UpdateTransactionStatus(ctx, txn.Id, next, at); err != nil {
		return nil, err
	}
	txn.Status = next
	if next == models.StatusSuccess {
		paid := at
		txn.PaidAt = &paid
	}

	switch {
	case next == models.StatusSuccess:
		dist, err := r.Record(ctx, tx, txn)
		if err != nil {
			return nil, err
		}
		return dist.Touched, nil
	case prev == models.StatusSuccess && (next == models.StatusRefunded || next == models.StatusFailed):
		return r.Reverse(ctx, tx, txn)
	}
	return nil, nil
}

type ownerShare struct {
	party  models.PartyType
	ref    string
	amount decimal.Decimal
	suffix string
}

func (r *Recorder) ownerShares(item *models.Item, result split.Result) []ownerShare {
	return []ownerShare{
		{models.PartyPlatform, r.platformRef, result.PlatformFee, keyPlatform},
		{models.PartyTierA, r.ownerRef(item.TierAOwner, item), result.TierAShare, keyTierA},
		{models.PartyTierB, r.ownerRef(item.TierBOwner, item), result.TierBShare, keyTierB},
	}
}

// ownerRef falls back to the platform when an item has no owner configured
// for a tier, so the share is never lost.
func (r *Recorder) ownerRef(owner string, item *models.Item) string {
	if owner != "" {
		return owner
	}
	zap.L().Debug("Item has no tier owner, crediting platform", zap.String("item_id", item.Id))
	return r.platformRef
}

func (r *Recorder) creditShare(ctx context.Context, tx store.Tx, transactionId string, share ownerShare) (string, error) {
	if !share.amount.IsPositive() {
		return "", nil
	}
	wallet, err := tx.EnsureWallet(ctx, share.party, share.ref)
	if err != nil {
		return "", err
	}
	immediate := share.party == models.PartyPlatform || !r.ownerSharesPending
	if _, err := tx.Credit(ctx, store.CreditParams{
		WalletId:       wallet.Id,
		Amount:         share.amount,
		Immediate:      immediate,
		SourceRef:      transactionId,
		IdempotencyKey: transactionId + share.suffix,
	}); err != nil {
		return "", fmt.Errorf("failed to credit %s share for %s: %w", share.party, transactionId, err)
	}
	return wallet.Id, nil
}
