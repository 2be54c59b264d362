package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()
	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		service.Close()
	}

	return service, cleanup
}

func ensureWallet(t *testing.T, service *Service, party models.PartyType, ref string) *models.Wallet {
	t.Helper()
	var wallet *models.Wallet
	err := service.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		wallet, err = tx.EnsureWallet(context.Background(), party, ref)
		return err
	})
	if err != nil {
		t.Fatalf("EnsureWallet failed: %v", err)
	}
	return wallet
}

func credit(t *testing.T, service *Service, walletId, amount, key string, immediate bool) {
	t.Helper()
	err := service.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.Credit(context.Background(), store.CreditParams{
			WalletId:       walletId,
			Amount:         decimal.RequireFromString(amount),
			Immediate:      immediate,
			SourceRef:      key,
			IdempotencyKey: key,
		})
		return err
	})
	if err != nil {
		t.Fatalf("Credit %s failed: %v", key, err)
	}
}

func assertWallet(t *testing.T, service *Service, walletId, balance, pending, earnings string) {
	t.Helper()
	wallet, err := service.GetWallet(context.Background(), walletId)
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !wallet.Balance.Equal(decimal.RequireFromString(balance)) {
		t.Errorf("Expected balance %s, got %s", balance, wallet.Balance)
	}
	if !wallet.PendingBalance.Equal(decimal.RequireFromString(pending)) {
		t.Errorf("Expected pending balance %s, got %s", pending, wallet.PendingBalance)
	}
	if !wallet.TotalEarnings.Equal(decimal.RequireFromString(earnings)) {
		t.Errorf("Expected total earnings %s, got %s", earnings, wallet.TotalEarnings)
	}

	audit, err := service.AuditWallet(context.Background(), walletId)
	if err != nil {
		t.Fatalf("AuditWallet failed: %v", err)
	}
	if !audit.Consistent {
		t.Errorf("Expected wallet %s to be consistent with its ledger: %+v", walletId, audit)
	}
}

func TestEnsureWallet_IsIdempotent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	first := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	second := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	if first.Id != second.Id {
		t.Errorf("Expected the same wallet, got %s and %s", first.Id, second.Id)
	}

	other := ensureWallet(t, service, models.PartyTierA, "aff-1")
	if other.Id == first.Id {
		t.Errorf("Expected a distinct wallet per party type")
	}

	wallets, err := service.ListWallets(context.Background())
	if err != nil {
		t.Fatalf("ListWallets failed: %v", err)
	}
	if len(wallets) != 2 {
		t.Errorf("Expected 2 wallets, got %d", len(wallets))
	}
}

func TestGetWallet_NotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.GetWallet(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCredit_ImmediateAndPending(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	credit(t, service, wallet.Id, "150.25", "txn-1", true)
	credit(t, service, wallet.Id, "40", "txn-2", false)

	assertWallet(t, service, wallet.Id, "150.25", "40", "190.25")
}

func TestCredit_ReplayedKeyChangesNothing(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	credit(t, service, wallet.Id, "100", "txn-1", true)
	credit(t, service, wallet.Id, "100", "txn-1", true)
	credit(t, service, wallet.Id, "100", "txn-1", true)

	assertWallet(t, service, wallet.Id, "100", "0", "100")

	entries, err := service.GetLedgerEntries(context.Background(), wallet.Id, 10, 0)
	if err != nil {
		t.Fatalf("GetLedgerEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", len(entries))
	}
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	for _, amount := range []string{"0", "-5"} {
		err := service.WithinTx(context.Background(), func(tx store.Tx) error {
			_, err := tx.Credit(context.Background(), store.CreditParams{
				WalletId:       wallet.Id,
				Amount:         decimal.RequireFromString(amount),
				IdempotencyKey: "k-" + amount,
			})
			return err
		})
		if !errors.Is(err, store.ErrValidation) {
			t.Errorf("Credit(%s): expected ErrValidation, got %v", amount, err)
		}
	}
}

func TestApprovePending(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyTierA, "owner-a")
	credit(t, service, wallet.Id, "300", "txn-1:tier_a", false)

	approve := func(amount, key string) error {
		return service.WithinTx(ctx, func(tx store.Tx) error {
			return tx.ApprovePending(ctx, wallet.Id, decimal.RequireFromString(amount), key)
		})
	}

	if err := approve("120", "approve-1"); err != nil {
		t.Fatalf("ApprovePending failed: %v", err)
	}
	assertWallet(t, service, wallet.Id, "120", "180", "300")

	// Replay does nothing
	if err := approve("120", "approve-1"); err != nil {
		t.Fatalf("ApprovePending replay failed: %v", err)
	}
	assertWallet(t, service, wallet.Id, "120", "180", "300")

	if err := approve("500", "approve-2"); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	assertWallet(t, service, wallet.Id, "120", "180", "300")
}

func TestReverse_AllowsNegativeBalance(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	credit(t, service, wallet.Id, "50", "txn-1", true)

	reverse := func() error {
		return service.WithinTx(ctx, func(tx store.Tx) error {
			_, err := tx.Reverse(ctx, store.ReverseParams{
				WalletId:       wallet.Id,
				Amount:         decimal.NewFromInt(80),
				SourceRef:      "txn-2",
				IdempotencyKey: "txn-2:reversal",
			})
			return err
		})
	}

	if err := reverse(); err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}
	if err := reverse(); err != nil {
		t.Fatalf("Reverse replay failed: %v", err)
	}
	assertWallet(t, service, wallet.Id, "-30", "0", "-30")
}

func TestReserveAndRelease(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	credit(t, service, wallet.Id, "100", "txn-1", true)

	reserve := func(amount, key string) error {
		return service.WithinTx(ctx, func(tx store.Tx) error {
			_, err := tx.Reserve(ctx, store.ReserveParams{WalletId: wallet.Id, Amount: decimal.RequireFromString(amount), IdempotencyKey: key})
			return err
		})
	}

	if err := reserve("101", "payout:p0:reserve"); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	if err := reserve("60", "payout:p1:reserve"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	assertWallet(t, service, wallet.Id, "40", "0", "100")

	err := service.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.Release(ctx, store.ReserveParams{WalletId: wallet.Id, Amount: decimal.NewFromInt(60), IdempotencyKey: "payout:p1:release"})
		return err
	})
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	assertWallet(t, service, wallet.Id, "100", "0", "100")
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	boom := errors.New("boom")

	err := service.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Credit(ctx, store.CreditParams{WalletId: wallet.Id, Amount: decimal.NewFromInt(10), Immediate: true, IdempotencyKey: "k1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	assertWallet(t, service, wallet.Id, "0", "0", "0")
}

func TestWithinTx_StaleVersionIsConcurrentModification(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	service.SetMaxRetries(2)

	attempts := 0
	err := service.WithinTx(ctx, func(tx store.Tx) error {
		attempts++
		st := tx.(*subledgerTx)
		stale, err := getWallet(ctx, st.tx, wallet.Id)
		if err != nil {
			return err
		}
		if _, err := st.tx.ExecContext(ctx, "UPDATE wallets SET version = version + 1 WHERE id = ?", wallet.Id); err != nil {
			return err
		}
		return updateWallet(ctx, st.tx, stale, walletDelta{available: decimal.NewFromInt(1)})
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestConcurrentCredits_KeepWalletConsistent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyPlatform, "platform")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- service.WithinTx(ctx, func(tx store.Tx) error {
				_, err := tx.Credit(ctx, store.CreditParams{
					WalletId:       wallet.Id,
					Amount:         decimal.RequireFromString("0.01"),
					Immediate:      i%2 == 0,
					IdempotencyKey: fmt.Sprintf("txn-%d", i),
				})
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent credit failed: %v", err)
		}
	}

	assertWallet(t, service, wallet.Id, "0.25", "0.25", "0.5")
}

func TestRecomputeWallet_RepairsDrift(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")
	credit(t, service, wallet.Id, "70", "txn-1", true)
	credit(t, service, wallet.Id, "30", "txn-2", false)

	if _, err := service.db.ExecContext(ctx, "UPDATE wallets SET balance = '999' WHERE id = ?", wallet.Id); err != nil {
		t.Fatalf("Failed to tamper with wallet: %v", err)
	}

	audit, err := service.AuditWallet(ctx, wallet.Id)
	if err != nil {
		t.Fatalf("AuditWallet failed: %v", err)
	}
	if audit.Consistent {
		t.Fatalf("Expected tampered wallet to be inconsistent")
	}

	err = service.WithinTx(ctx, func(tx store.Tx) error {
		return tx.VerifyWallet(ctx, wallet.Id)
	})
	if !errors.Is(err, store.ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation, got %v", err)
	}

	before, err := service.RecomputeWallet(ctx, wallet.Id)
	if err != nil {
		t.Fatalf("RecomputeWallet failed: %v", err)
	}
	if !before.Balance.Equal(decimal.NewFromInt(999)) {
		t.Errorf("Expected pre-repair balance 999, got %s", before.Balance)
	}
	assertWallet(t, service, wallet.Id, "70", "30", "100")
}

func TestNewService_InMemoryNeedsNoPoolSettings(t *testing.T) {
	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:        ":memory:",
		PingTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Expected in-memory database to open without pool settings, got %v", err)
	}
	service.Close()
}

func TestNewService_FileDatabaseNeedsPoolSize(t *testing.T) {
	_, err := NewService(context.Background(), models.DatabaseConfig{
		Path:        t.TempDir() + "/ledger.db",
		PingTimeout: time.Second,
	})
	if !errors.Is(err, store.ErrConfiguration) {
		t.Fatalf("Expected ErrConfiguration for a zero pool size, got %v", err)
	}
}
