package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"revshare-ledger-go/internal/database"
	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func setupProcessor(t *testing.T, balance, pending string) (*database.Service, *Processor, string) {
	t.Helper()
	ctx := context.Background()
	service, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(service.Close)

	var walletId string
	err = service.WithinTx(ctx, func(tx store.Tx) error {
		wallet, err := tx.EnsureWallet(ctx, models.PartyAffiliate, "aff-1")
		if err != nil {
			return err
		}
		walletId = wallet.Id
		if _, err := tx.Credit(ctx, store.CreditParams{WalletId: wallet.Id, Amount: decimal.RequireFromString(balance), Immediate: true, IdempotencyKey: "seed-available"}); err != nil {
			return err
		}
		if pending != "0" {
			_, err = tx.Credit(ctx, store.CreditParams{WalletId: wallet.Id, Amount: decimal.RequireFromString(pending), IdempotencyKey: "seed-pending"})
		}
		return err
	})
	if err != nil {
		t.Fatalf("Failed to seed wallet: %v", err)
	}

	return service, NewProcessor(service, metrics.New(prometheus.NewRegistry())), walletId
}

func expectWallet(t *testing.T, service *database.Service, walletId, balance string) {
	t.Helper()
	wallet, err := service.GetWallet(context.Background(), walletId)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.Balance.Equal(decimal.RequireFromString(balance)) {
		t.Errorf("Expected balance %s, got %s", balance, wallet.Balance)
	}
	audit, err := service.AuditWallet(context.Background(), walletId)
	if err != nil {
		t.Fatalf("AuditWallet failed: %v", err)
	}
	if !audit.Consistent {
		t.Errorf("Wallet inconsistent with its ledger: %+v", audit)
	}
}

func TestPayout_HappyPath(t *testing.T) {
	service, processor, walletId := setupProcessor(t, "100", "0")
	ctx := context.Background()

	payout, err := processor.Request(ctx, walletId, decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if payout.State != models.PayoutPending {
		t.Errorf("Expected PENDING, got %s", payout.State)
	}
	expectWallet(t, service, walletId, "100")

	if _, err := processor.Approve(ctx, payout.Id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	expectWallet(t, service, walletId, "40")

	if _, err := processor.StartProcessing(ctx, payout.Id); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}
	done, err := processor.Complete(ctx, payout.Id)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.State != models.PayoutCompleted {
		t.Errorf("Expected COMPLETED, got %s", done.State)
	}
	expectWallet(t, service, walletId, "40")

	wallet, _ := service.GetWallet(ctx, walletId)
	if !wallet.TotalEarnings.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected payouts to leave total earnings at 100, got %s", wallet.TotalEarnings)
	}
}

func TestPayout_RequestNeedsBalance(t *testing.T) {
	_, processor, walletId := setupProcessor(t, "10", "500")

	_, err := processor.Request(context.Background(), walletId, decimal.NewFromInt(11))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	_, err = processor.Request(context.Background(), walletId, decimal.Zero)
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestPayout_SecondApprovalCannotDoubleSpend(t *testing.T) {
	service, processor, walletId := setupProcessor(t, "100", "0")
	ctx := context.Background()

	first, err := processor.Request(ctx, walletId, decimal.NewFromInt(70))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	second, err := processor.Request(ctx, walletId, decimal.NewFromInt(70))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, err := processor.Approve(ctx, first.Id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := processor.Approve(ctx, second.Id); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	expectWallet(t, service, walletId, "30")

	stored, _ := service.GetPayout(ctx, second.Id)
	if stored.State != models.PayoutPending {
		t.Errorf("Expected failed approval to leave payout PENDING, got %s", stored.State)
	}
}

func TestPayout_RejectReleasesReservation(t *testing.T) {
	service, processor, walletId := setupProcessor(t, "100", "0")
	ctx := context.Background()

	pending, _ := processor.Request(ctx, walletId, decimal.NewFromInt(20))
	approved, _ := processor.Request(ctx, walletId, decimal.NewFromInt(50))
	if _, err := processor.Approve(ctx, approved.Id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	expectWallet(t, service, walletId, "50")

	if _, err := processor.Reject(ctx, pending.Id, "duplicate request"); err != nil {
		t.Fatalf("Reject PENDING failed: %v", err)
	}
	expectWallet(t, service, walletId, "50")

	rejected, err := processor.Reject(ctx, approved.Id, "bank details invalid")
	if err != nil {
		t.Fatalf("Reject APPROVED failed: %v", err)
	}
	if rejected.Reason != "bank details invalid" {
		t.Errorf("Expected reject reason to be kept, got %q", rejected.Reason)
	}
	expectWallet(t, service, walletId, "100")
}

func TestPayout_InvalidTransitions(t *testing.T) {
	_, processor, walletId := setupProcessor(t, "100", "0")
	ctx := context.Background()

	payout, _ := processor.Request(ctx, walletId, decimal.NewFromInt(10))

	if _, err := processor.StartProcessing(ctx, payout.Id); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("PENDING -> PROCESSING: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := processor.Complete(ctx, payout.Id); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("PENDING -> COMPLETED: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := processor.Approve(ctx, payout.Id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := processor.Approve(ctx, payout.Id); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("APPROVED -> APPROVED: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := processor.StartProcessing(ctx, payout.Id); err != nil {
		t.Fatalf("StartProcessing failed: %v", err)
	}
	if _, err := processor.Reject(ctx, payout.Id, "too late"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("PROCESSING -> REJECTED: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := processor.Approve(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown payout, got %v", err)
	}
}

func TestApproveEarnings(t *testing.T) {
	service, processor, walletId := setupProcessor(t, "5", "30")
	ctx := context.Background()

	if err := processor.ApproveEarnings(ctx, walletId, decimal.NewFromInt(30), "approve-1"); err != nil {
		t.Fatalf("ApproveEarnings failed: %v", err)
	}
	expectWallet(t, service, walletId, "35")

	if err := processor.ApproveEarnings(ctx, walletId, decimal.NewFromInt(1), "approve-2"); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPayout_WritesRefusedWhileReconciliationHalted(t *testing.T) {
	service, processor, walletId := setupProcessor(t, "100", "20")
	ctx := context.Background()

	payout, err := processor.Request(ctx, walletId, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	err = service.WithinTx(ctx, func(tx store.Tx) error {
		return tx.SaveCursor(ctx, &models.ReconciliationCursor{
			Source:     "legacy",
			Mode:       models.PaginationOffset,
			Halted:     true,
			HaltReason: "wallet w1 out of balance",
		})
	})
	if err != nil {
		t.Fatalf("Failed to record halt: %v", err)
	}

	if _, err := processor.Request(ctx, walletId, decimal.NewFromInt(10)); !errors.Is(err, store.ErrHalted) {
		t.Errorf("Request: expected ErrHalted, got %v", err)
	}
	if _, err := processor.Approve(ctx, payout.Id); !errors.Is(err, store.ErrHalted) {
		t.Errorf("Approve: expected ErrHalted, got %v", err)
	}
	if _, err := processor.Reject(ctx, payout.Id, "halted"); !errors.Is(err, store.ErrHalted) {
		t.Errorf("Reject: expected ErrHalted, got %v", err)
	}
	if err := processor.ApproveEarnings(ctx, walletId, decimal.NewFromInt(20), "approve-1"); !errors.Is(err, store.ErrHalted) {
		t.Errorf("ApproveEarnings: expected ErrHalted, got %v", err)
	}
	expectWallet(t, service, walletId, "100")

	if err := service.ClearHalt(ctx, "legacy"); err != nil {
		t.Fatalf("ClearHalt failed: %v", err)
	}
	if _, err := processor.Approve(ctx, payout.Id); err != nil {
		t.Fatalf("Approve after clearing the halt failed: %v", err)
	}
	expectWallet(t, service, walletId, "60")
}
