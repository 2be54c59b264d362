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
	"encoding/json"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"

	"go.uber.org/zap"
)

func (t *subledgerTx) GetCursor(ctx context.Context, source string) (*models.ReconciliationCursor, error) {
	return getCursor(ctx, t.tx, source)
}

func (t *subledgerTx) SaveCursor(ctx context.Context, c *models.ReconciliationCursor) error {
	skipped, err := json.Marshal(c.SkippedOffsets)
	if err != nil {
		return fmt.Errorf("failed to encode skipped offsets: %w", err)
	}
	if c.SkippedOffsets == nil {
		skipped = []byte("[]")
	}
	c.UpdatedAt = time.Now().UTC()

	_, err = t.tx.ExecContext(ctx, querySaveCursor,
		c.Source, string(c.Mode), c.NextOffset, c.NextCursor, string(skipped),
		c.Completed, c.Halted, c.HaltReason, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (t *subledgerTx) FindHaltedCursor(ctx context.Context) (*models.ReconciliationCursor, error) {
	c, err := scanCursor(t.tx.QueryRowContext(ctx, queryFindHaltedCursor))
	if err != nil {
		return nil, notFound(err, "halted cursor")
	}
	return c, nil
}

func getCursor(ctx context.Context, q queryer, source string) (*models.ReconciliationCursor, error) {
	c, err := scanCursor(q.QueryRowContext(ctx, queryGetCursor, source))
	if err != nil {
		return nil, notFound(err, "cursor for source %s", source)
	}
	return c, nil
}

func scanCursor(row interface{ Scan(...any) error }) (*models.ReconciliationCursor, error) {
	var c models.ReconciliationCursor
	var mode, skipped string
	err := row.Scan(&c.Source, &mode, &c.NextOffset, &c.NextCursor, &skipped, &c.Completed, &c.Halted, &c.HaltReason, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Mode = models.PaginationMode(mode)
	if err := json.Unmarshal([]byte(skipped), &c.SkippedOffsets); err != nil {
		return nil, fmt.Errorf("failed to decode skipped offsets %q: %w", skipped, err)
	}
	return &c, nil
}

func (s *Service) GetCursor(ctx context.Context, source string) (*models.ReconciliationCursor, error) {
	return getCursor(ctx, s.db, source)
}

// ClearHalt lifts a halt recorded after an invariant violation so the next
// run may proceed.
func (s *Service) ClearHalt(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, queryClearHalt, time.Now().UTC(), source); err != nil {
		return fmt.Errorf("failed to clear halt: %w", err)
	}
	zap.L().Warn("Reconciliation halt cleared", zap.String("source", source))
	return nil
}
