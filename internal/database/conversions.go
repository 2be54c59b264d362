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

package database

import (
	"context"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (t *subledgerTx) CreateConversion(ctx context.Context, c *models.AffiliateConversion) (*models.AffiliateConversion, bool, error) {
	if c.Id == "" {
		c.Id = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	result, err := t.tx.ExecContext(ctx, queryInsertConversion,
		c.Id, c.TransactionId, c.AffiliateRef, c.WalletId, c.CommissionAmount.String(), string(c.Status), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversion: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := t.GetConversion(ctx, c.TransactionId)
		if err != nil {
			return nil, false, err
		}
		zap.L().Debug("Conversion already exists", zap.String("transaction_id", c.TransactionId))
		return existing, false, nil
	}
	return c, true, nil
}

func (t *subledgerTx) GetConversion(ctx context.Context, transactionId string) (*models.AffiliateConversion, error) {
	return getConversion(ctx, t.tx, transactionId)
}

func (t *subledgerTx) UpdateConversionStatus(ctx context.Context, transactionId string, status models.ConversionStatus) error {
	result, err := t.tx.ExecContext(ctx, queryUpdateConversionStatus, string(status), time.Now().UTC(), transactionId)
	if err != nil {
		return fmt.Errorf("failed to update conversion status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("conversion for transaction %s: %w", transactionId, store.ErrNotFound)
	}
	return nil
}

func getConversion(ctx context.Context, q queryer, transactionId string) (*models.AffiliateConversion, error) {
	var c models.AffiliateConversion
	var amountStr, status string
	err := q.QueryRowContext(ctx, queryGetConversion, transactionId).Scan(
		&c.Id, &c.TransactionId, &c.AffiliateRef, &c.WalletId, &amountStr, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "conversion for transaction %s", transactionId)
	}
	c.Status = models.ConversionStatus(status)
	if c.CommissionAmount, err = parseDecimal("commission_amount", amountStr); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) GetConversion(ctx context.Context, transactionId string) (*models.AffiliateConversion, error) {
	return getConversion(ctx, s.db, transactionId)
}
