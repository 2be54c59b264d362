package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
)

// GetWallet returns the current wallet row (O(1) lookup)
func (s *Service) GetWallet(ctx context.Context, walletId string) (*models.Wallet, error) {
	zap.L().Debug("Getting wallet", zap.String("wallet_id", walletId))
	return getWallet(ctx, s.db, walletId)
}

func (s *Service) FindWallet(ctx context.Context, party models.PartyType, ref string) (*models.Wallet, error) {
	return findWallet(ctx, s.db, party, ref)
}

// ListWallets returns every wallet ordered by party
func (s *Service) ListWallets(ctx context.Context) ([]models.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, queryListWallets)
	if err != nil {
		zap.L().Error("Failed to list wallets", zap.Error(err))
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during wallet row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}

	zap.L().Debug("Retrieved wallets", zap.Int("count", len(wallets)))
	return wallets, nil
}

// GetLedgerEntries returns a wallet's entries, newest first
func (s *Service) GetLedgerEntries(ctx context.Context, walletId string, limit, offset int) ([]models.LedgerEntry, error) {
	zap.L().Debug("Getting ledger entries",
		zap.String("wallet_id", walletId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))
	return listEntries(ctx, s.db, queryWalletEntriesPage, walletId, limit, offset)
}

// AuditWallet verifies that the wallet row matches the sum of its entries
func (s *Service) AuditWallet(ctx context.Context, walletId string) (*models.WalletAudit, error) {
	audit, err := auditWallet(ctx, s.db, walletId)
	if err != nil {
		return nil, err
	}

	if !audit.Consistent {
		zap.L().Error("Wallet audit failed",
			zap.String("wallet_id", walletId),
			zap.String("balance", audit.Balance.String()),
			zap.String("pending_balance", audit.PendingBalance.String()),
			zap.String("ledger_available", audit.LedgerAvailable.String()),
			zap.String("ledger_pending", audit.LedgerPending.String()),
			zap.String("difference", audit.Balance.Add(audit.PendingBalance).Sub(audit.LedgerSum).String()))
		return audit, nil
	}

	zap.L().Debug("Wallet audit successful",
		zap.String("wallet_id", walletId),
		zap.String("balance", audit.Balance.String()))
	return audit, nil
}

// RecomputeWallet rewrites the wallet's cached balances from its entries.
// The returned audit describes the wallet as it was before the repair.
func (s *Service) RecomputeWallet(ctx context.Context, walletId string) (*models.WalletAudit, error) {
	var before *models.WalletAudit
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		st := tx.(*subledgerTx)
		audit, err := auditWallet(ctx, st.tx, walletId)
		if err != nil {
			return err
		}
		before = audit
		if audit.Consistent {
			return nil
		}

		wallet, err := getWallet(ctx, st.tx, walletId)
		if err != nil {
			return err
		}
		return updateWallet(ctx, st.tx, wallet, walletDelta{
			available: audit.LedgerAvailable.Sub(wallet.Balance),
			pending:   audit.LedgerPending.Sub(wallet.PendingBalance),
			earnings:  audit.LedgerEarnings.Sub(wallet.TotalEarnings),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recompute wallet %s: %w", walletId, err)
	}

	if !before.Consistent {
		zap.L().Warn("Wallet recomputed from ledger",
			zap.String("wallet_id", walletId),
			zap.String("old_balance", before.Balance.String()),
			zap.String("new_balance", before.LedgerAvailable.String()),
			zap.String("old_pending", before.PendingBalance.String()),
			zap.String("new_pending", before.LedgerPending.String()),
			zap.Time("at", time.Now().UTC()))
	}
	return before, nil
}
