package api

import (
	"context"
	"fmt"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *LedgerService) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	wallets, err := s.db.ListWallets(ctx)
	if err != nil {
		zap.L().Error("Failed to list wallets", zap.Error(err))
		return nil, err
	}
	return wallets, nil
}

func (s *LedgerService) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	if walletId == "" {
		return nil, fmt.Errorf("%w: wallet_id is required", store.ErrValidation)
	}
	return s.db.GetWallet(ctx, walletId)
}

// GetLedgerEntries returns paginated ledger history for a wallet
func (s *LedgerService) GetLedgerEntries(ctx context.Context, walletId string, limit, offset int) ([]models.LedgerEntry, error) {
	if walletId == "" {
		return nil, fmt.Errorf("%w: wallet_id is required", store.ErrValidation)
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.db.GetWallet(ctx, walletId); err != nil {
		return nil, err
	}

	entries, err := s.db.GetLedgerEntries(ctx, walletId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get ledger entries",
			zap.String("wallet_id", walletId),
			zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (s *LedgerService) AuditWallet(ctx context.Context, walletId string) (*models.WalletAudit, error) {
	return s.db.AuditWallet(ctx, walletId)
}

// ApproveEarnings releases held earnings and returns the updated wallet.
func (s *LedgerService) ApproveEarnings(ctx context.Context, walletId string, req models.ApproveEarningsRequest) (*models.Wallet, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.payouts.ApproveEarnings(ctx, walletId, amount, req.IdempotencyKey); err != nil {
		zap.L().Error("Earnings approval failed",
			zap.String("wallet_id", walletId),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("Earnings approved",
		zap.String("wallet_id", walletId),
		zap.String("amount", amount.String()),
		zap.String("idempotency_key", req.IdempotencyKey))
	return s.db.GetWallet(ctx, walletId)
}

func parseAmount(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", store.ErrValidation, value)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive, got %s", store.ErrValidation, amount)
	}
	return amount, nil
}
