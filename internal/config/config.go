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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"revshare-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := getEnvDuration("SOURCE_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	baseBackoff, err := getEnvDuration("SOURCE_BASE_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	maxBackoff, err := getEnvDuration("SOURCE_MAX_BACKOFF", 10*time.Second)
	if err != nil {
		return nil, err
	}

	ratePerSecond, err := getEnvFloat("SOURCE_RATE_PER_SECOND", 5)
	if err != nil {
		return nil, err
	}

	maxErrorRate, err := getEnvFloat("RECONCILE_MAX_ERROR_RATE", 0.05)
	if err != nil {
		return nil, err
	}

	platformFeeRate, err := getEnvDecimal("SPLIT_PLATFORM_FEE_RATE", decimal.RequireFromString("0.15"))
	if err != nil {
		return nil, err
	}

	tierARate, err := getEnvDecimal("SPLIT_TIER_A_RATE", decimal.RequireFromString("0.60"))
	if err != nil {
		return nil, err
	}

	interval, err := getEnvDuration("RECONCILE_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "revshare.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Source: models.SourceConfig{
			Name:           getEnvString("SOURCE_NAME", "legacy"),
			BaseURL:        getEnvString("SOURCE_BASE_URL", ""),
			APIKey:         getEnvString("SOURCE_API_KEY", ""),
			Pagination:     models.PaginationMode(getEnvString("SOURCE_PAGINATION", string(models.PaginationOffset))),
			PageSize:       getEnvInt("SOURCE_PAGE_SIZE", 100),
			RequestTimeout: requestTimeout,
			RatePerSecond:  ratePerSecond,
			Burst:          getEnvInt("SOURCE_BURST", 5),
			MaxAttempts:    getEnvInt("SOURCE_MAX_ATTEMPTS", 3),
			BaseBackoff:    baseBackoff,
			MaxBackoff:     maxBackoff,
		},
		Reconcile: models.ReconcileConfig{
			Workers:        getEnvInt("RECONCILE_WORKERS", 4),
			MaxErrorRate:   maxErrorRate,
			MinSample:      getEnvInt("RECONCILE_MIN_SAMPLE", 100),
			MaxPages:       getEnvInt("RECONCILE_MAX_PAGES", 0),
			MaxFailedPages: getEnvInt("RECONCILE_MAX_FAILED_PAGES", 10),
			SettingsFile:   getEnvString("RECONCILE_SETTINGS_FILE", "reconcile.yaml"),
			CatalogFile:    getEnvString("CATALOG_FILE", "catalog.yaml"),
			Interval:       interval,
			FullEvery:      getEnvInt("RECONCILE_FULL_EVERY", 0),
		},
		Split: models.SplitConfig{
			PlatformFeeRate: platformFeeRate,
			TierARate:       tierARate,
			Scale:           int32(getEnvInt("SPLIT_SCALE", 2)),
			PlatformParty:   getEnvString("PLATFORM_PARTY", "platform"),
		},
		Ledger: models.LedgerConfig{
			MaxRetries:         getEnvInt("LEDGER_MAX_RETRIES", 3),
			OwnerSharesPending: getEnvBool("OWNER_SHARES_PENDING", false),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

// getEnvDecimal parses money and rates exactly; a float would not round-trip.
func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
