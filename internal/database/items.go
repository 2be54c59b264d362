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

	"go.uber.org/zap"
)

func (t *subledgerTx) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return getItem(ctx, t.tx, id)
}

func (s *Service) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return getItem(ctx, s.db, id)
}

// UpsertItem creates or replaces a catalog item. Past transactions keep their
// own commission snapshot and are not affected.
func (s *Service) UpsertItem(ctx context.Context, item *models.Item) error {
	if item.Id == "" {
		return fmt.Errorf("%w: item id cannot be empty", store.ErrValidation)
	}
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: item %s has unknown kind %q", store.ErrValidation, item.Id, item.Kind)
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, queryUpsertItem,
		item.Id, item.Name, string(item.Kind), item.Commission.Rate.String(), string(item.Commission.Type),
		item.TierAOwner, item.TierBOwner, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.Id, err)
	}

	zap.L().Info("Item upserted",
		zap.String("item_id", item.Id),
		zap.String("kind", string(item.Kind)),
		zap.String("commission", item.Commission.Rate.String()+" "+string(item.Commission.Type)))
	return nil
}

func getItem(ctx context.Context, q queryer, id string) (*models.Item, error) {
	var item models.Item
	var kind, rateStr, commissionType string
	err := q.QueryRowContext(ctx, queryGetItem, id).Scan(
		&item.Id, &item.Name, &kind, &rateStr, &commissionType,
		&item.TierAOwner, &item.TierBOwner, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "item %s", id)
	}
	item.Kind = models.ItemKind(kind)
	item.Commission.Type = models.CommissionType(commissionType)
	if item.Commission.Rate, err = parseDecimal("commission_rate", rateStr); err != nil {
		return nil, err
	}
	return &item, nil
}
