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
	"database/sql"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
)

func (t *subledgerTx) InsertPayout(ctx context.Context, p *models.Payout) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := t.tx.ExecContext(ctx, queryInsertPayout,
		p.Id, p.WalletId, p.Amount.String(), string(p.State), p.Reason, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: payout %s", store.ErrDuplicate, p.Id)
		}
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

func (t *subledgerTx) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	return getPayout(ctx, t.tx, id)
}

// UpdatePayoutState moves a payout from one state to another. The update is
// guarded on from, so a payout that moved underneath the caller is reported
// as a concurrent modification.
func (t *subledgerTx) UpdatePayoutState(ctx context.Context, id string, from, to models.PayoutState, reason string) error {
	result, err := t.tx.ExecContext(ctx, queryUpdatePayoutState, string(to), reason, time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update payout state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payout %s not in state %s - %w", id, from, store.ErrConcurrentModification)
	}
	return nil
}

func scanPayout(row interface{ Scan(...any) error }) (*models.Payout, error) {
	var p models.Payout
	var amountStr, state string
	if err := row.Scan(&p.Id, &p.WalletId, &amountStr, &state, &p.Reason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.State = models.PayoutState(state)

	var err error
	if p.Amount, err = parseDecimal("amount", amountStr); err != nil {
		return nil, err
	}
	return &p, nil
}

func getPayout(ctx context.Context, q queryer, id string) (*models.Payout, error) {
	p, err := scanPayout(q.QueryRowContext(ctx, queryGetPayout, id))
	if err != nil {
		return nil, notFound(err, "payout %s", id)
	}
	return p, nil
}

func (s *Service) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	return getPayout(ctx, s.db, id)
}

func (s *Service) ListPayouts(ctx context.Context, walletId string) ([]models.Payout, error) {
	rows, err := s.db.QueryContext(ctx, queryListPayouts, walletId)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var payouts []models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payout rows: %w", err)
	}
	return payouts, nil
}
