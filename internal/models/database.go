package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the canonical status of a sale.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusSuccess  TransactionStatus = "SUCCESS"
	StatusFailed   TransactionStatus = "FAILED"
	StatusRefunded TransactionStatus = "REFUNDED"
)

// Valid reports whether s is one of the four canonical statuses.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether a stored transaction may move from s to next.
// SUCCESS is immutable except for refunds and late failures.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSuccess || next == StatusFailed
	case StatusSuccess:
		return next == StatusRefunded || next == StatusFailed
	}
	return false
}

// CommissionType selects how a commission rate is applied.
type CommissionType string

const (
	CommissionPercentage CommissionType = "PERCENTAGE"
	CommissionFlat       CommissionType = "FLAT"
)

// CommissionConfig is the rate attached to a sellable item. A snapshot of it
// is copied onto every transaction at creation time.
type CommissionConfig struct {
	Rate decimal.Decimal `db:"commission_rate" json:"rate"`
	Type CommissionType  `db:"commission_type" json:"type"`
}

// ItemKind is the classification of a sellable item, fixed when the item is
// configured.
type ItemKind string

const (
	ItemKindCourse     ItemKind = "COURSE"
	ItemKindEbook      ItemKind = "EBOOK"
	ItemKindEvent      ItemKind = "EVENT"
	ItemKindMembership ItemKind = "MEMBERSHIP"
	ItemKindBundle     ItemKind = "BUNDLE"
)

// Valid reports whether k is a known item kind.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindCourse, ItemKindEbook, ItemKindEvent, ItemKindMembership, ItemKindBundle:
		return true
	}
	return false
}

// Item is a sellable item and its commission configuration.
type Item struct {
	Id         string           `db:"id" json:"id"`
	Name       string           `db:"name" json:"name"`
	Kind       ItemKind         `db:"kind" json:"kind"`
	Commission CommissionConfig `json:"commission"`
	TierAOwner string           `db:"tier_a_owner" json:"tier_a_owner"`
	TierBOwner string           `db:"tier_b_owner" json:"tier_b_owner"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Transaction is a canonical sale record.
type Transaction struct {
	Id           string            `db:"id" json:"id"`
	Amount       decimal.Decimal   `db:"amount" json:"amount"`
	Status       TransactionStatus `db:"status" json:"status"`
	ItemId       string            `db:"item_id" json:"item_id"`
	ItemKind     ItemKind          `db:"item_kind" json:"item_kind"`
	AffiliateRef string            `db:"affiliate_ref" json:"affiliate_ref,omitempty"`
	BuyerRef     string            `db:"buyer_ref" json:"buyer_ref"`
	Source       string            `db:"source" json:"source"`
	ExternalId   string            `db:"external_id" json:"external_id,omitempty"`
	Fingerprint  string            `db:"fingerprint" json:"fingerprint"`
	Commission   CommissionConfig  `json:"commission"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	PaidAt       *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// HasAffiliate reports whether the sale was referred.
func (t Transaction) HasAffiliate() bool {
	return t.AffiliateRef != ""
}

// ConversionStatus is the lifecycle of an affiliate commission.
type ConversionStatus string

const (
	ConversionPending  ConversionStatus = "PENDING"
	ConversionApproved ConversionStatus = "APPROVED"
	ConversionPaid     ConversionStatus = "PAID"
	ConversionReversed ConversionStatus = "REVERSED"
)

// AffiliateConversion links one successful sale to the commission earned by
// its referring affiliate. At most one exists per transaction.
type AffiliateConversion struct {
	Id               string           `db:"id" json:"id"`
	TransactionId    string           `db:"transaction_id" json:"transaction_id"`
	AffiliateRef     string           `db:"affiliate_ref" json:"affiliate_ref"`
	WalletId         string           `db:"wallet_id" json:"wallet_id"`
	CommissionAmount decimal.Decimal  `db:"commission_amount" json:"commission_amount"`
	Status           ConversionStatus `db:"status" json:"status"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// PartyType identifies which beneficiary a wallet belongs to.
type PartyType string

const (
	PartyAffiliate PartyType = "AFFILIATE"
	PartyPlatform  PartyType = "PLATFORM"
	PartyTierA     PartyType = "TIER_A"
	PartyTierB     PartyType = "TIER_B"
)

// Wallet is the current state of a beneficiary's account (hot data). It is
// only ever mutated through ledger entries.
type Wallet struct {
	Id             string          `db:"id" json:"id"`
	PartyType      PartyType       `db:"party_type" json:"party_type"`
	PartyRef       string          `db:"party_ref" json:"party_ref"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	PendingBalance decimal.Decimal `db:"pending_balance" json:"pending_balance"`
	TotalEarnings  decimal.Decimal `db:"total_earnings" json:"total_earnings"`
	Version        int64           `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// LedgerBucket is the part of a wallet an entry moves.
type LedgerBucket string

const (
	BucketAvailable LedgerBucket = "AVAILABLE"
	BucketPending   LedgerBucket = "PENDING"
)

// Ledger entry reasons.
const (
	ReasonCredit   = "credit"
	ReasonApprove  = "approve"
	ReasonRefund   = "refund"
	ReasonReserved = "reserved"
	ReasonReleased = "released"
)

// LedgerEntry is an immutable, signed movement on a wallet (cold data).
type LedgerEntry struct {
	Id             string          `db:"id" json:"id"`
	WalletId       string          `db:"wallet_id" json:"wallet_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Bucket         LedgerBucket    `db:"bucket" json:"bucket"`
	Reason         string          `db:"reason" json:"reason"`
	SourceRef      string          `db:"source_ref" json:"source_ref"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// PayoutState is the withdrawal request state machine.
type PayoutState string

const (
	PayoutPending    PayoutState = "PENDING"
	PayoutApproved   PayoutState = "APPROVED"
	PayoutProcessing PayoutState = "PROCESSING"
	PayoutCompleted  PayoutState = "COMPLETED"
	PayoutRejected   PayoutState = "REJECTED"
)

// Terminal reports whether no further transitions are allowed.
func (s PayoutState) Terminal() bool {
	return s == PayoutCompleted || s == PayoutRejected
}

// Payout is a withdrawal request against a wallet.
type Payout struct {
	Id        string          `db:"id" json:"id"`
	WalletId  string          `db:"wallet_id" json:"wallet_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	State     PayoutState     `db:"state" json:"state"`
	Reason    string          `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// PaginationMode is how the legacy source pages its results.
type PaginationMode string

const (
	PaginationOffset PaginationMode = "offset"
	PaginationCursor PaginationMode = "cursor"
)

// ReconciliationCursor is the persisted checkpoint of an import per source.
// Dedup-set membership is not stored here; it is rebuilt from the
// transactions table on resume.
type ReconciliationCursor struct {
	Source         string         `db:"source" json:"source"`
	Mode           PaginationMode `db:"mode" json:"mode"`
	NextOffset     int            `db:"next_offset" json:"next_offset"`
	NextCursor     string         `db:"next_cursor" json:"next_cursor,omitempty"`
	SkippedOffsets []int          `json:"skipped_offsets,omitempty"`
	Completed      bool           `db:"completed" json:"completed"`
	Halted         bool           `db:"halted" json:"halted"`
	HaltReason     string         `db:"halt_reason" json:"halt_reason,omitempty"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
