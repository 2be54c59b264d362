package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunState is the lifecycle of a reconciliation run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunAborted   RunState = "aborted"
	RunCanceled  RunState = "canceled"
	RunFailed    RunState = "failed"
)

// ImportStats are the counters of a reconciliation run or a dry run.
type ImportStats struct {
	Records          int             `json:"records"`
	Inserted         int             `json:"inserted"`
	Duplicates       int             `json:"duplicates"`
	Transitions      int             `json:"transitions"`
	Conflicts        int             `json:"conflicts"`
	Invalid          int             `json:"invalid"`
	UnmappedStatuses int             `json:"unmapped_statuses"`
	SuccessAmount    decimal.Decimal `json:"success_amount"`
	PagesFetched     int             `json:"pages_fetched"`
	PagesCommitted   int             `json:"pages_committed"`
	PagesSkipped     int             `json:"pages_skipped"`
}

// Add accumulates o into s.
func (s *ImportStats) Add(o ImportStats) {
	s.Records += o.Records
	s.Inserted += o.Inserted
	s.Duplicates += o.Duplicates
	s.Transitions += o.Transitions
	s.Conflicts += o.Conflicts
	s.Invalid += o.Invalid
	s.UnmappedStatuses += o.UnmappedStatuses
	s.SuccessAmount = s.SuccessAmount.Add(o.SuccessAmount)
	s.PagesFetched += o.PagesFetched
	s.PagesCommitted += o.PagesCommitted
	s.PagesSkipped += o.PagesSkipped
}

// ErrorRate is invalid records over all records seen.
func (s ImportStats) ErrorRate() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.Invalid) / float64(s.Records)
}

// RunStatus is a point-in-time view of the reconciliation engine.
type RunStatus struct {
	Source     string                `json:"source"`
	State      RunState              `json:"state"`
	DryRun     bool                  `json:"dry_run"`
	StartedAt  time.Time             `json:"started_at,omitempty"`
	FinishedAt time.Time             `json:"finished_at,omitempty"`
	Stats      ImportStats           `json:"stats"`
	Cursor     *ReconciliationCursor `json:"cursor,omitempty"`
	LastError  string                `json:"last_error,omitempty"`
}

// WalletAudit is the outcome of checking one wallet against its ledger.
type WalletAudit struct {
	WalletId        string          `json:"wallet_id"`
	Balance         decimal.Decimal `json:"balance"`
	PendingBalance  decimal.Decimal `json:"pending_balance"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	LedgerSum       decimal.Decimal `json:"ledger_sum"`
	LedgerAvailable decimal.Decimal `json:"ledger_available"`
	LedgerPending   decimal.Decimal `json:"ledger_pending"`
	LedgerEarnings  decimal.Decimal `json:"ledger_earnings"`
	Consistent      bool            `json:"consistent"`
}

// StartReconcileRequest is the optional body of a reconcile start request.
type StartReconcileRequest struct {
	Resume bool `json:"resume"`
}

// PayoutRequest opens a withdrawal against a wallet. Amount is a decimal
// string so no precision is lost in transit.
type PayoutRequest struct {
	WalletId string `json:"wallet_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// RejectPayoutRequest carries the operator's reason for a rejection.
type RejectPayoutRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ApproveEarningsRequest releases held earnings into a wallet's balance.
type ApproveEarningsRequest struct {
	Amount         string `json:"amount" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
