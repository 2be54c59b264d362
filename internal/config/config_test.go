package config

import (
	"testing"
	"time"

	"revshare-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "revshare.db" {
		t.Errorf("Expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Source.Pagination != models.PaginationOffset || cfg.Source.MaxAttempts != 3 {
		t.Errorf("Unexpected source defaults: %+v", cfg.Source)
	}
	if !cfg.Split.PlatformFeeRate.Equal(decimal.RequireFromString("0.15")) || cfg.Split.Scale != 2 {
		t.Errorf("Unexpected split defaults: %+v", cfg.Split)
	}
	if cfg.Ledger.OwnerSharesPending {
		t.Errorf("Expected owner shares to be immediate by default")
	}
	if cfg.Reconcile.MaxFailedPages != 10 {
		t.Errorf("Expected a default of 10 consecutive failed pages, got %d", cfg.Reconcile.MaxFailedPages)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SOURCE_PAGINATION", "cursor")
	t.Setenv("SOURCE_REQUEST_TIMEOUT", "2s")
	t.Setenv("RECONCILE_MAX_ERROR_RATE", "0.25")
	t.Setenv("SPLIT_TIER_A_RATE", "0.5")
	t.Setenv("OWNER_SHARES_PENDING", "true")
	t.Setenv("RECONCILE_WORKERS", "not-a-number")
	t.Setenv("RECONCILE_INTERVAL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Pagination != models.PaginationCursor {
		t.Errorf("Expected cursor pagination, got %q", cfg.Source.Pagination)
	}
	if cfg.Source.RequestTimeout != 2*time.Second {
		t.Errorf("Expected 2s timeout, got %v", cfg.Source.RequestTimeout)
	}
	if cfg.Reconcile.MaxErrorRate != 0.25 {
		t.Errorf("Expected error rate 0.25, got %v", cfg.Reconcile.MaxErrorRate)
	}
	if !cfg.Split.TierARate.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected tier A rate 0.5, got %s", cfg.Split.TierARate)
	}
	if !cfg.Ledger.OwnerSharesPending {
		t.Errorf("Expected owner shares pending")
	}
	if cfg.Reconcile.Interval != time.Minute {
		t.Errorf("Expected 1m interval, got %v", cfg.Reconcile.Interval)
	}
	if cfg.Reconcile.Workers != 4 {
		t.Errorf("Expected malformed int to fall back to 4, got %d", cfg.Reconcile.Workers)
	}
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	tests := map[string]string{
		"DB_PING_TIMEOUT":         "soon",
		"SOURCE_RATE_PER_SECOND":  "fast",
		"SPLIT_PLATFORM_FEE_RATE": "15%",
		"SERVER_SHUTDOWN_TIMEOUT": "10",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected %s=%q to be rejected", key, value)
			}
		})
	}
}
