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

	"revshare-ledger-go/internal/common"
	"revshare-ledger-go/internal/config"
	"revshare-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceStats struct {
	wallets   int
	available decimal.Decimal
	pending   decimal.Decimal
	earnings  decimal.Decimal
}

func printWallet(wallet models.Wallet, places int32, isLast bool) {
	fmt.Printf("%s %-10s %-24s available %14s  pending %14s  earned %14s  (v%d, %s, updated: %s)\n",
		common.BoxPrefix(isLast),
		wallet.PartyType,
		wallet.PartyRef,
		common.FormatAmount(wallet.Balance, places),
		common.FormatAmount(wallet.PendingBalance, places),
		common.FormatAmount(wallet.TotalEarnings, places),
		wallet.Version,
		common.ShortId(wallet.Id),
		wallet.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printEntries(entries []models.LedgerEntry, places int32) {
	for i, e := range entries {
		fmt.Printf("    %s %-9s %-9s %14s  ref=%s  key=%s  at %s\n",
			common.BoxPrefix(i == len(entries)-1),
			e.Reason,
			e.Bucket,
			common.FormatAmount(e.Amount, places),
			common.ShortId(e.SourceRef),
			e.IdempotencyKey,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	partyFlag := flag.String("party", "", "Filter by party reference (optional)")
	entriesFlag := flag.Int("entries", 0, "Show the most recent N ledger entries per wallet")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no source client needed
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	wallets, err := common.InitializeWallets(ctx, dbService, *partyFlag, logger)
	if err != nil {
		logger.Fatal("Failed to load wallets", zap.Error(err))
	}

	places := cfg.Split.Scale
	common.PrintHeader("WALLET BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for i, wallet := range wallets {
		printWallet(wallet, places, i == len(wallets)-1)
		stats.wallets++
		stats.available = stats.available.Add(wallet.Balance)
		stats.pending = stats.pending.Add(wallet.PendingBalance)
		stats.earnings = stats.earnings.Add(wallet.TotalEarnings)

		if *entriesFlag > 0 {
			entries, err := dbService.GetLedgerEntries(ctx, wallet.Id, *entriesFlag, 0)
			if err != nil {
				logger.Error("Failed to load ledger entries",
					zap.String("wallet_id", wallet.Id),
					zap.Error(err))
				continue
			}
			printEntries(entries, places)
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d wallets, available %s, pending %s, earned %s",
		stats.wallets,
		common.FormatAmount(stats.available, places),
		common.FormatAmount(stats.pending, places),
		common.FormatAmount(stats.earnings, places))
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("wallets", stats.wallets),
		zap.String("available", stats.available.String()),
		zap.String("pending", stats.pending.String()))
}
