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

	"go.uber.org/zap"
)

func printItems(items []models.Item) {
	for i, item := range items {
		fmt.Printf("%s %-20s %-11s %8s %-10s tier_a=%s tier_b=%s\n",
			common.BoxPrefix(i == len(items)-1),
			item.Id,
			item.Kind,
			item.Commission.Rate.String(),
			item.Commission.Type,
			ownerOrPlatform(item.TierAOwner),
			ownerOrPlatform(item.TierBOwner))
	}
}

func ownerOrPlatform(owner string) string {
	if owner == "" {
		return "(platform)"
	}
	return owner
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	catalogFlag := flag.String("catalog", "", "Path to catalog.yaml (default: CATALOG_FILE)")
	checkFlag := flag.Bool("check", false, "Validate the catalog without writing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	catalogFile := *catalogFlag
	if catalogFile == "" {
		catalogFile = cfg.Reconcile.CatalogFile
	}

	zap.L().Info("Loading catalog", zap.String("file", catalogFile))
	items, err := common.LoadCatalog(catalogFile)
	if err != nil {
		zap.L().Fatal("Failed to load catalog", zap.Error(err))
	}

	common.PrintHeader("CATALOG", common.DefaultWidth)
	printItems(items)

	if *checkFlag {
		common.PrintFooter(fmt.Sprintf("Catalog valid: %d items (not written)", len(items)), common.DefaultWidth)
		return
	}

	// Opening the database creates the schema on first use.
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if err := common.SyncCatalog(ctx, dbService, items); err != nil {
		zap.L().Fatal("Failed to store catalog", zap.Error(err))
	}

	common.PrintFooter(fmt.Sprintf("Stored %d items in %s", len(items), cfg.Database.Path), common.DefaultWidth)
}
