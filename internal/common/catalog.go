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
	"fmt"
	"os"
	"path/filepath"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/split"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type CommissionEntry struct {
	Rate string `yaml:"rate"`
	Type string `yaml:"type"`
}

type ItemEntry struct {
	Id         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Kind       string          `yaml:"kind"`
	Commission CommissionEntry `yaml:"commission"`
	TierAOwner string          `yaml:"tier_a_owner"`
	TierBOwner string          `yaml:"tier_b_owner"`
}

type CatalogConfig struct {
	Items []ItemEntry `yaml:"items"`
}

type SplitEntry struct {
	PlatformFeeRate string `yaml:"platform_fee_rate"`
	TierARate       string `yaml:"tier_a_rate"`
}

// ReconcileSettings is the optional reconcile.yaml: source status overrides
// and a replacement tier-rate table.
type ReconcileSettings struct {
	StatusMap map[string]string `yaml:"status_map"`
	Split     *SplitEntry       `yaml:"split"`
}

func resolvePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(wd, file), nil
}

func readYaml(file string, out any) error {
	path, err := resolvePath(file)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", file, err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to parse %s: %w", file, err)
	}
	return nil
}

// LoadCatalog reads the sellable items and their commission configuration.
func LoadCatalog(catalogFile string) ([]models.Item, error) {
	var config CatalogConfig
	if err := readYaml(catalogFile, &config); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(config.Items))
	items := make([]models.Item, 0, len(config.Items))
	for i, entry := range config.Items {
		if entry.Id == "" {
			return nil, fmt.Errorf("item at index %d missing id", i)
		}
		if _, dup := seen[entry.Id]; dup {
			return nil, fmt.Errorf("item at index %d: duplicate id %q", i, entry.Id)
		}
		seen[entry.Id] = struct{}{}

		kind := models.ItemKind(entry.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("item %s: unknown kind %q", entry.Id, entry.Kind)
		}

		rate, err := decimal.NewFromString(entry.Commission.Rate)
		if err != nil {
			return nil, fmt.Errorf("item %s: invalid commission rate %q: %w", entry.Id, entry.Commission.Rate, err)
		}
		commission := models.CommissionConfig{Rate: rate, Type: models.CommissionType(entry.Commission.Type)}
		if err := split.ValidateCommission(commission); err != nil {
			return nil, fmt.Errorf("item %s: %w", entry.Id, err)
		}

		name := entry.Name
		if name == "" {
			name = entry.Id
		}
		items = append(items, models.Item{
			Id:         entry.Id,
			Name:       name,
			Kind:       kind,
			Commission: commission,
			TierAOwner: entry.TierAOwner,
			TierBOwner: entry.TierBOwner,
		})
	}

	return items, nil
}

// LoadReconcileSettings reads reconcile.yaml. A missing file yields empty
// settings.
func LoadReconcileSettings(settingsFile string) (*ReconcileSettings, error) {
	if settingsFile == "" {
		return &ReconcileSettings{}, nil
	}
	path, err := resolvePath(settingsFile)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &ReconcileSettings{}, nil
	}

	var settings ReconcileSettings
	if err := readYaml(settingsFile, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// ApplySplit overrides the tier rates in cfg with the ones from the file and
// validates the result.
func (s *ReconcileSettings) ApplySplit(cfg *models.SplitConfig) error {
	if s.Split != nil {
		if s.Split.PlatformFeeRate != "" {
			rate, err := decimal.NewFromString(s.Split.PlatformFeeRate)
			if err != nil {
				return fmt.Errorf("invalid platform_fee_rate %q: %w", s.Split.PlatformFeeRate, err)
			}
			cfg.PlatformFeeRate = rate
		}
		if s.Split.TierARate != "" {
			rate, err := decimal.NewFromString(s.Split.TierARate)
			if err != nil {
				return fmt.Errorf("invalid tier_a_rate %q: %w", s.Split.TierARate, err)
			}
			cfg.TierARate = rate
		}
	}
	return split.RatesFromConfig(*cfg).Validate()
}
