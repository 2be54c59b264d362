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
	"log"
	"strings"

	"revshare-ledger-go/internal/database"
	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/payout"
	"revshare-ledger-go/internal/reconcile"
	"revshare-ledger-go/internal/recorder"
	"revshare-ledger-go/internal/source"
	"revshare-ledger-go/internal/store"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService     *database.Service
	Metrics       *metrics.Metrics
	Recorder      *recorder.Recorder
	SourceService *source.Service
	Engine        *reconcile.Engine
	Payouts       *payout.Processor
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the store, the recorder, the source client, the
// reconciliation engine and the payout processor. Metrics are registered
// with the default Prometheus registry.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	zap.L().Info("Loading reconcile settings", zap.String("file", cfg.Reconcile.SettingsFile))
	settings, err := LoadReconcileSettings(cfg.Reconcile.SettingsFile)
	if err != nil {
		return nil, err
	}
	if err := settings.ApplySplit(&cfg.Split); err != nil {
		return nil, err
	}

	statuses, err := reconcile.NewStatusMapper(settings.StatusMap)
	if err != nil {
		return nil, err
	}

	rec, err := recorder.NewRecorder(cfg.Split, cfg.Ledger)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	sourceService, err := source.NewService(cfg.Source, m)
	if err != nil {
		return nil, err
	}

	dbService, err := InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := reconcile.NewEngine(reconcile.EngineConfig{
		Source:   sourceService,
		Store:    dbService,
		Recorder: rec,
		Statuses: statuses,
		Metrics:  m,
		Settings: cfg.Reconcile,
	})
	if err != nil {
		dbService.Close()
		return nil, err
	}

	zap.L().Info("Services initialized",
		zap.String("source", cfg.Source.Name),
		zap.String("pagination", string(cfg.Source.Pagination)),
		zap.String("platform_fee_rate", cfg.Split.PlatformFeeRate.String()),
		zap.String("tier_a_rate", cfg.Split.TierARate.String()),
		zap.Int("status_overrides", len(settings.StatusMap)))

	return &Services{
		DbService:     dbService,
		Metrics:       m,
		Recorder:      rec,
		SourceService: sourceService,
		Engine:        engine,
		Payouts:       payout.NewProcessor(dbService, m),
	}, nil
}

// InitializeDatabaseOnly initializes just the database service without the
// legacy source. Useful for balance reports, audits and payouts.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	dbService.SetMaxRetries(cfg.Ledger.MaxRetries)
	return dbService, nil
}

// SyncCatalog upserts items into the store.
func SyncCatalog(ctx context.Context, dbService store.LedgerStore, items []models.Item) error {
	for _, item := range items {
		if err := dbService.UpsertItem(ctx, &item); err != nil {
			return fmt.Errorf("failed to store item %s: %w", item.Id, err)
		}
		zap.L().Info("Stored item",
			zap.String("id", item.Id),
			zap.String("kind", string(item.Kind)),
			zap.String("commission_rate", item.Commission.Rate.String()),
			zap.String("commission_type", string(item.Commission.Type)))
	}
	return nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
