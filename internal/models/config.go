package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Source    SourceConfig
	Reconcile ReconcileConfig
	Split     SplitConfig
	Ledger    LedgerConfig
	Server    ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// SourceConfig holds legacy commerce source client settings
type SourceConfig struct {
	Name           string
	BaseURL        string
	APIKey         string
	Pagination     PaginationMode
	PageSize       int
	RequestTimeout time.Duration
	RatePerSecond  float64
	Burst          int
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

// ReconcileConfig holds import engine settings
type ReconcileConfig struct {
	Workers        int
	MaxErrorRate   float64
	MinSample      int
	MaxPages       int
	MaxFailedPages int
	SettingsFile   string
	CatalogFile    string

	// Interval schedules resumed runs in the server; zero disables them.
	Interval  time.Duration
	FullEvery int
}

// SplitConfig is the fixed tier-rate table applied after the affiliate share.
// Rates are fractions in [0, 1].
type SplitConfig struct {
	PlatformFeeRate decimal.Decimal
	TierARate       decimal.Decimal
	Scale           int32
	PlatformParty   string
}

// LedgerConfig holds wallet ledger settings
type LedgerConfig struct {
	MaxRetries         int
	OwnerSharesPending bool
}

// ServerConfig holds the operational HTTP surface settings
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}
