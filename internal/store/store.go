package store

import (
	"context"
	"errors"
	"time"

	"revshare-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared by all store implementations and the components
// built on them. Callers classify failures with errors.Is.
var (
	// ErrValidation marks a malformed or incomplete input record.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate marks a record already present by id or fingerprint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrSourceUnavailable marks a network or server failure of the legacy source.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvariantViolation is fatal: the ledger may be untrustworthy.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrConcurrentModification is returned when an optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrConfiguration          = errors.New("invalid configuration")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrHalted                 = errors.New("reconciliation halted pending manual review")
)

// CreditParams describes a ledger credit.
type CreditParams struct {
	WalletId       string
	Amount         decimal.Decimal
	Immediate      bool
	SourceRef      string
	IdempotencyKey string
}

// ReverseParams describes a compensating debit.
type ReverseParams struct {
	WalletId       string
	Amount         decimal.Decimal
	Reason         string
	SourceRef      string
	IdempotencyKey string
}

// ReserveParams describes a payout reservation or its release.
type ReserveParams struct {
	WalletId       string
	Amount         decimal.Decimal
	SourceRef      string
	IdempotencyKey string
}

// LedgerTx is the wallet ledger as seen from inside one atomic unit of work.
// Every mutation is idempotent on its key: a replay returns the entry that
// was written the first time and changes nothing.
type LedgerTx interface {
	EnsureWallet(ctx context.Context, party models.PartyType, ref string) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletId string) (*models.Wallet, error)
	Credit(ctx context.Context, params CreditParams) (*models.LedgerEntry, error)
	ApprovePending(ctx context.Context, walletId string, amount decimal.Decimal, idempotencyKey string) error
	Reverse(ctx context.Context, params ReverseParams) (*models.LedgerEntry, error)
	Reserve(ctx context.Context, params ReserveParams) (*models.LedgerEntry, error)
	Release(ctx context.Context, params ReserveParams) (*models.LedgerEntry, error)
	FindEntry(ctx context.Context, walletId, idempotencyKey string) (*models.LedgerEntry, error)
	// FindEntriesByKey returns the entries written under idempotencyKey in
	// any wallet.
	FindEntriesByKey(ctx context.Context, idempotencyKey string) ([]models.LedgerEntry, error)
	VerifyWallet(ctx context.Context, walletId string) error
}

// ConversionTx manages affiliate conversions inside a unit of work.
type ConversionTx interface {
	// CreateConversion inserts c unless a conversion for c.TransactionId
	// already exists, in which case the existing row is returned and created
	// is false.
	CreateConversion(ctx context.Context, c *models.AffiliateConversion) (conv *models.AffiliateConversion, created bool, err error)
	GetConversion(ctx context.Context, transactionId string) (*models.AffiliateConversion, error)
	UpdateConversionStatus(ctx context.Context, transactionId string, status models.ConversionStatus) error
}

// TransactionTx manages canonical transactions inside a unit of work.
type TransactionTx interface {
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	FindTransactionByExternalId(ctx context.Context, source, externalId string) (*models.Transaction, error)
	// FindTransactionByFingerprint only matches records stored without an
	// external id.
	FindTransactionByFingerprint(ctx context.Context, source, fingerprint string) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus, at time.Time) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
}

// PayoutTx manages payout requests inside a unit of work.
type PayoutTx interface {
	InsertPayout(ctx context.Context, p *models.Payout) error
	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	UpdatePayoutState(ctx context.Context, id string, from, to models.PayoutState, reason string) error
}

// CursorTx persists reconciliation checkpoints inside a unit of work.
type CursorTx interface {
	GetCursor(ctx context.Context, source string) (*models.ReconciliationCursor, error)
	SaveCursor(ctx context.Context, c *models.ReconciliationCursor) error
	// FindHaltedCursor returns the oldest halted cursor, or ErrNotFound when
	// no source is halted.
	FindHaltedCursor(ctx context.Context) (*models.ReconciliationCursor, error)
}

// Tx is one atomic unit of work: everything done through it commits or
// rolls back together.
type Tx interface {
	LedgerTx
	ConversionTx
	TransactionTx
	PayoutTx
	CursorTx
}

// SeenKeys is the dedup-set membership rebuilt from the canonical store.
// ExternalIds carries the last stored status of each id so a status change
// can be told apart from a plain duplicate.
type SeenKeys struct {
	ExternalIds  map[string]models.TransactionStatus
	Fingerprints map[string]struct{}
}

// LedgerStore is the canonical store. Components receive it explicitly; there
// is no package-level database handle.
type LedgerStore interface {
	// WithinTx runs fn in a single atomic unit. A fn that fails with
	// ErrConcurrentModification is retried a bounded number of times.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetWallet(ctx context.Context, walletId string) (*models.Wallet, error)
	FindWallet(ctx context.Context, party models.PartyType, ref string) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]models.Wallet, error)
	GetLedgerEntries(ctx context.Context, walletId string, limit, offset int) ([]models.LedgerEntry, error)
	AuditWallet(ctx context.Context, walletId string) (*models.WalletAudit, error)
	RecomputeWallet(ctx context.Context, walletId string) (*models.WalletAudit, error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	FindTransactionByExternalId(ctx context.Context, source, externalId string) (*models.Transaction, error)
	FindTransactionByFingerprint(ctx context.Context, source, fingerprint string) (*models.Transaction, error)
	CountTransactions(ctx context.Context) (int, error)
	SumTransactions(ctx context.Context, status models.TransactionStatus) (decimal.Decimal, error)
	LoadSeenKeys(ctx context.Context, source string) (*SeenKeys, error)

	GetItem(ctx context.Context, id string) (*models.Item, error)
	UpsertItem(ctx context.Context, item *models.Item) error

	GetConversion(ctx context.Context, transactionId string) (*models.AffiliateConversion, error)
	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	ListPayouts(ctx context.Context, walletId string) ([]models.Payout, error)

	GetCursor(ctx context.Context, source string) (*models.ReconciliationCursor, error)
	ClearHalt(ctx context.Context, source string) error

	Close()
}
