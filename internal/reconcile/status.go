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

package reconcile

import (
	"fmt"
	"strings"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"
)

// defaultStatusMap covers the status strings the legacy storefront and its
// payment plugins are known to emit. Keys are normalized.
var defaultStatusMap = map[string]models.TransactionStatus{
	"pending":          models.StatusPending,
	"processing":       models.StatusPending,
	"on_hold":          models.StatusPending,
	"awaiting_payment": models.StatusPending,
	"unpaid":           models.StatusPending,
	"created":          models.StatusPending,
	"new":              models.StatusPending,

	"paid":      models.StatusSuccess,
	"success":   models.StatusSuccess,
	"succeeded": models.StatusSuccess,
	"completed": models.StatusSuccess,
	"complete":  models.StatusSuccess,
	"settled":   models.StatusSuccess,
	"captured":  models.StatusSuccess,

	"failed":    models.StatusFailed,
	"failure":   models.StatusFailed,
	"declined":  models.StatusFailed,
	"cancelled": models.StatusFailed,
	"canceled":  models.StatusFailed,
	"expired":   models.StatusFailed,
	"voided":    models.StatusFailed,
	"error":     models.StatusFailed,

	"refunded":     models.StatusRefunded,
	"refund":       models.StatusRefunded,
	"reversed":     models.StatusRefunded,
	"chargeback":   models.StatusRefunded,
	"charged_back": models.StatusRefunded,
}

// StatusMapper translates source status strings to canonical statuses.
// Anything it does not know maps to PENDING, which never credits a wallet.
type StatusMapper struct {
	table map[string]models.TransactionStatus
}

// NewStatusMapper builds the default table with overrides applied on top.
// Override values must name a canonical status.
func NewStatusMapper(overrides map[string]string) (*StatusMapper, error) {
	table := make(map[string]models.TransactionStatus, len(defaultStatusMap)+len(overrides))
	for raw, status := range defaultStatusMap {
		table[raw] = status
	}
	for raw, value := range overrides {
		status := models.TransactionStatus(strings.ToUpper(strings.TrimSpace(value)))
		if !status.Valid() {
			return nil, fmt.Errorf("%w: status %q maps to unknown canonical status %q", store.ErrConfiguration, raw, value)
		}
		table[normalizeStatus(raw)] = status
	}
	return &StatusMapper{table: table}, nil
}

// Map returns the canonical status for raw and whether raw was known.
func (m *StatusMapper) Map(raw string) (models.TransactionStatus, bool) {
	status, ok := m.table[normalizeStatus(raw)]
	if !ok {
		return models.StatusPending, false
	}
	return status, true
}

func normalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "wc-")
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
