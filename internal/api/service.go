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
	"fmt"

	"revshare-ledger-go/internal/payout"
	"revshare-ledger-go/internal/reconcile"
	"revshare-ledger-go/internal/store"
)

// LedgerService is the operational surface over the store, the reconciliation
// engine and the payout processor.
type LedgerService struct {
	db      store.LedgerStore
	engine  *reconcile.Engine
	payouts *payout.Processor

	// runCtx bounds background reconciliation runs; request contexts end
	// with the request.
	runCtx context.Context
}

func NewLedgerService(runCtx context.Context, db store.LedgerStore, engine *reconcile.Engine, payouts *payout.Processor) *LedgerService {
	return &LedgerService{
		db:      db,
		engine:  engine,
		payouts: payouts,
		runCtx:  runCtx,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	_, err := s.db.CountTransactions(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
