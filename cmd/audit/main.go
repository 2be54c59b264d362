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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"revshare-ledger-go/internal/common"
	"revshare-ledger-go/internal/config"
	"revshare-ledger-go/internal/database"
	"revshare-ledger-go/internal/models"

	"go.uber.org/zap"
)

type auditStats struct {
	checked      int
	inconsistent int
	repaired     int
}

func printAudit(wallet models.Wallet, audit *models.WalletAudit, places int32, isLast bool) {
	mark := "ok"
	if !audit.Consistent {
		mark = "MISMATCH"
	}
	fmt.Printf("%s %-10s %-24s %-8s balance %s/%s  pending %s/%s  earned %s/%s\n",
		common.BoxPrefix(isLast),
		wallet.PartyType,
		wallet.PartyRef,
		mark,
		common.FormatAmount(audit.Balance, places), common.FormatAmount(audit.LedgerAvailable, places),
		common.FormatAmount(audit.PendingBalance, places), common.FormatAmount(audit.LedgerPending, places),
		common.FormatAmount(audit.TotalEarnings, places), common.FormatAmount(audit.LedgerEarnings, places))
}

func auditWallets(ctx context.Context, dbService *database.Service, wallets []models.Wallet, repair bool, places int32) auditStats {
	stats := auditStats{}

	for i, wallet := range wallets {
		stats.checked++

		audit, err := dbService.AuditWallet(ctx, wallet.Id)
		if err != nil {
			zap.L().Error("Failed to audit wallet",
				zap.String("wallet_id", wallet.Id),
				zap.Error(err))
			continue
		}
		printAudit(wallet, audit, places, i == len(wallets)-1)
		if audit.Consistent {
			continue
		}
		stats.inconsistent++

		if !repair {
			continue
		}
		repaired, err := dbService.RecomputeWallet(ctx, wallet.Id)
		if err != nil {
			zap.L().Error("Failed to recompute wallet",
				zap.String("wallet_id", wallet.Id),
				zap.Error(err))
			continue
		}
		stats.repaired++
		zap.L().Warn("Wallet recomputed from ledger",
			zap.String("wallet_id", wallet.Id),
			zap.String("balance", repaired.LedgerAvailable.String()),
			zap.String("pending_balance", repaired.LedgerPending.String()),
			zap.String("total_earnings", repaired.LedgerEarnings.String()))
	}

	return stats
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	repairFlag := flag.Bool("repair", false, "Recompute mismatched wallets from their ledger entries")
	clearHaltFlag := flag.Bool("clear-halt", false, "Clear the reconciliation halt marker after review")
	partyFlag := flag.String("party", "", "Only audit wallets of this party reference")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	cursor, err := dbService.GetCursor(ctx, cfg.Source.Name)
	if err == nil && cursor.Halted {
		zap.L().Warn("Reconciliation is halted",
			zap.String("source", cursor.Source),
			zap.String("reason", cursor.HaltReason))
	}

	wallets, err := common.InitializeWallets(ctx, dbService, *partyFlag, zap.L())
	if err != nil {
		zap.L().Fatal("Failed to load wallets", zap.Error(err))
	}

	common.PrintHeader("WALLET AUDIT (wallet / ledger)", common.DefaultWidth)
	stats := auditWallets(ctx, dbService, wallets, *repairFlag, cfg.Split.Scale)
	common.PrintFooter(fmt.Sprintf("SUMMARY: %d wallets checked, %d inconsistent, %d repaired",
		stats.checked, stats.inconsistent, stats.repaired), common.DefaultWidth)

	if *clearHaltFlag {
		if stats.inconsistent > stats.repaired {
			zap.L().Error("Refusing to clear halt while wallets are still inconsistent",
				zap.Int("inconsistent", stats.inconsistent),
				zap.Int("repaired", stats.repaired))
			loggerCleanup()
			os.Exit(1)
		}
		if err := dbService.ClearHalt(ctx, cfg.Source.Name); err != nil {
			zap.L().Fatal("Failed to clear halt", zap.Error(err))
		}
	}

	if stats.inconsistent > stats.repaired {
		loggerCleanup()
		os.Exit(1)
	}
}
