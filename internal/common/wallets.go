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

package common

import (
	"context"
	"fmt"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitializeWallets retrieves wallets based on an optional party filter.
// If partyRef is provided, returns the wallets of that party only.
// If partyRef is empty, returns all wallets.
func InitializeWallets(ctx context.Context, dbService store.LedgerStore, partyRef string, logger *zap.Logger) ([]models.Wallet, error) {
	wallets, err := dbService.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallets: %w", err)
	}
	if partyRef == "" {
		return wallets, nil
	}

	logger.Info("Filtering wallets by party", zap.String("party_ref", partyRef))
	var filtered []models.Wallet
	for _, w := range wallets {
		if w.PartyRef == partyRef {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("no wallet for party %q: %w", partyRef, store.ErrNotFound)
	}
	return filtered, nil
}
