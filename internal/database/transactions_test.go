package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func newTransaction(id, externalId, fingerprint, amount string, status models.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		Id:          id,
		Amount:      decimal.RequireFromString(amount),
		Status:      status,
		ItemId:      "course-1",
		ItemKind:    models.ItemKindCourse,
		BuyerRef:    "buyer-1",
		Source:      "legacy",
		ExternalId:  externalId,
		Fingerprint: fingerprint,
		Commission:  models.CommissionConfig{Rate: decimal.NewFromInt(20), Type: models.CommissionPercentage},
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func insert(t *testing.T, service *Service, txn *models.Transaction) error {
	t.Helper()
	return service.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertTransaction(context.Background(), txn)
	})
}

func TestInsertTransaction_RoundTrip(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	txn := newTransaction("t1", "ext-1", "fp-1", "1000000.50", models.StatusSuccess)
	paid := txn.CreatedAt.Add(time.Minute)
	txn.PaidAt = &paid
	txn.AffiliateRef = "aff-1"
	if err := insert(t, service, txn); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	got, err := service.GetTransaction(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if !got.Amount.Equal(txn.Amount) {
		t.Errorf("Expected amount %s, got %s", txn.Amount, got.Amount)
	}
	if got.ExternalId != "ext-1" || got.AffiliateRef != "aff-1" {
		t.Errorf("Unexpected identifiers: %+v", got)
	}
	if got.PaidAt == nil || !got.PaidAt.Equal(paid) {
		t.Errorf("Expected paid_at %v, got %v", paid, got.PaidAt)
	}
	if !got.Commission.Rate.Equal(decimal.NewFromInt(20)) || got.Commission.Type != models.CommissionPercentage {
		t.Errorf("Unexpected commission snapshot: %+v", got.Commission)
	}

	byExt, err := service.FindTransactionByExternalId(context.Background(), "legacy", "ext-1")
	if err != nil || byExt.Id != "t1" {
		t.Errorf("FindTransactionByExternalId: got %v, %v", byExt, err)
	}
}

func TestInsertTransaction_DuplicateExternalId(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	if err := insert(t, service, newTransaction("t1", "ext-1", "fp-1", "10", models.StatusSuccess)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	err := insert(t, service, newTransaction("t2", "ext-1", "fp-2", "10", models.StatusSuccess))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func TestInsertTransaction_AnonymousFingerprintIsUnique(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	if err := insert(t, service, newTransaction("t1", "", "fp-1", "10", models.StatusSuccess)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	err := insert(t, service, newTransaction("t2", "", "fp-1", "10", models.StatusSuccess))
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	// Records with their own external id may share a fingerprint.
	if err := insert(t, service, newTransaction("t3", "ext-3", "fp-1", "10", models.StatusSuccess)); err != nil {
		t.Errorf("Expected identified record with shared fingerprint to insert, got %v", err)
	}
	if err := insert(t, service, newTransaction("t4", "ext-4", "fp-1", "10", models.StatusSuccess)); err != nil {
		t.Errorf("Expected identified record with shared fingerprint to insert, got %v", err)
	}

	count, err := service.CountTransactions(context.Background())
	if err != nil {
		t.Fatalf("CountTransactions failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 transactions, got %d", count)
	}
}

func TestUpdateTransactionStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if err := insert(t, service, newTransaction("t1", "ext-1", "fp-1", "10", models.StatusPending)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	update := func(status models.TransactionStatus) error {
		return service.WithinTx(ctx, func(tx store.Tx) error {
			return tx.UpdateTransactionStatus(ctx, "t1", status, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
		})
	}

	if err := update(models.StatusSuccess); err != nil {
		t.Fatalf("PENDING -> SUCCESS failed: %v", err)
	}
	got, _ := service.GetTransaction(ctx, "t1")
	if got.Status != models.StatusSuccess || got.PaidAt == nil {
		t.Errorf("Expected SUCCESS with paid_at, got %s %v", got.Status, got.PaidAt)
	}

	if err := update(models.StatusPending); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("SUCCESS -> PENDING: expected ErrInvalidTransition, got %v", err)
	}
	if err := update(models.StatusRefunded); err != nil {
		t.Fatalf("SUCCESS -> REFUNDED failed: %v", err)
	}
	if err := update(models.StatusSuccess); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("REFUNDED -> SUCCESS: expected ErrInvalidTransition, got %v", err)
	}
}

func TestSumTransactionsAndSeenKeys(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	for _, txn := range []*models.Transaction{
		newTransaction("t1", "ext-1", "fp-1", "0.10", models.StatusSuccess),
		newTransaction("t2", "ext-2", "fp-2", "0.20", models.StatusSuccess),
		newTransaction("t3", "", "fp-3", "5", models.StatusFailed),
	} {
		if err := insert(t, service, txn); err != nil {
			t.Fatalf("Insert %s failed: %v", txn.Id, err)
		}
	}

	sum, err := service.SumTransactions(ctx, models.StatusSuccess)
	if err != nil {
		t.Fatalf("SumTransactions failed: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("Expected exact sum 0.3, got %s", sum)
	}

	seen, err := service.LoadSeenKeys(ctx, "legacy")
	if err != nil {
		t.Fatalf("LoadSeenKeys failed: %v", err)
	}
	if len(seen.ExternalIds) != 2 || seen.ExternalIds["ext-1"] != models.StatusSuccess {
		t.Errorf("Expected 2 external ids with their status, got %v", seen.ExternalIds)
	}
	if _, ok := seen.Fingerprints["fp-3"]; !ok || len(seen.Fingerprints) != 1 {
		t.Errorf("Expected only the anonymous fingerprint fp-3, got %v", seen.Fingerprints)
	}

	anon, err := service.FindTransactionByFingerprint(ctx, "legacy", "fp-3")
	if err != nil || anon.Id != "t3" {
		t.Errorf("FindTransactionByFingerprint: got %v, %v", anon, err)
	}
	if _, err := service.FindTransactionByFingerprint(ctx, "legacy", "fp-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected identified rows to be ignored by fingerprint lookup, got %v", err)
	}

	other, err := service.LoadSeenKeys(ctx, "another-source")
	if err != nil {
		t.Fatalf("LoadSeenKeys failed: %v", err)
	}
	if len(other.ExternalIds) != 0 || len(other.Fingerprints) != 0 {
		t.Errorf("Expected no keys for another source, got %+v", other)
	}
}

func TestCreateConversion_AtMostOnePerTransaction(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if err := insert(t, service, newTransaction("t1", "ext-1", "fp-1", "100", models.StatusSuccess)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")

	create := func(amount string) (*models.AffiliateConversion, bool) {
		var conv *models.AffiliateConversion
		var created bool
		err := service.WithinTx(ctx, func(tx store.Tx) error {
			var err error
			conv, created, err = tx.CreateConversion(ctx, &models.AffiliateConversion{
				TransactionId:    "t1",
				AffiliateRef:     "aff-1",
				WalletId:         wallet.Id,
				CommissionAmount: decimal.RequireFromString(amount),
				Status:           models.ConversionApproved,
			})
			return err
		})
		if err != nil {
			t.Fatalf("CreateConversion failed: %v", err)
		}
		return conv, created
	}

	first, created := create("20")
	if !created {
		t.Fatalf("Expected first conversion to be created")
	}
	second, created := create("99")
	if created {
		t.Errorf("Expected second conversion to be a no-op")
	}
	if second.Id != first.Id || !second.CommissionAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected the original conversion back, got %+v", second)
	}

	err := service.WithinTx(ctx, func(tx store.Tx) error {
		return tx.UpdateConversionStatus(ctx, "t1", models.ConversionReversed)
	})
	if err != nil {
		t.Fatalf("UpdateConversionStatus failed: %v", err)
	}
	got, err := service.GetConversion(ctx, "t1")
	if err != nil {
		t.Fatalf("GetConversion failed: %v", err)
	}
	if got.Status != models.ConversionReversed {
		t.Errorf("Expected REVERSED, got %s", got.Status)
	}
}

func TestPayoutStateGuard(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	wallet := ensureWallet(t, service, models.PartyAffiliate, "aff-1")

	err := service.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertPayout(ctx, &models.Payout{Id: "p1", WalletId: wallet.Id, Amount: decimal.NewFromInt(5), State: models.PayoutPending})
	})
	if err != nil {
		t.Fatalf("InsertPayout failed: %v", err)
	}

	move := func(from, to models.PayoutState) error {
		return service.WithinTx(ctx, func(tx store.Tx) error {
			return tx.UpdatePayoutState(ctx, "p1", from, to, "")
		})
	}
	if err := move(models.PayoutPending, models.PayoutApproved); err != nil {
		t.Fatalf("UpdatePayoutState failed: %v", err)
	}
	if err := move(models.PayoutPending, models.PayoutRejected); !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification for stale from-state, got %v", err)
	}

	payouts, err := service.ListPayouts(ctx, wallet.Id)
	if err != nil {
		t.Fatalf("ListPayouts failed: %v", err)
	}
	if len(payouts) != 1 || payouts[0].State != models.PayoutApproved {
		t.Errorf("Expected one APPROVED payout, got %+v", payouts)
	}
}

func TestCursorPersistence(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.GetCursor(ctx, "legacy"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before first save, got %v", err)
	}

	err := service.WithinTx(ctx, func(tx store.Tx) error {
		return tx.SaveCursor(ctx, &models.ReconciliationCursor{
			Source:         "legacy",
			Mode:           models.PaginationOffset,
			NextOffset:     300,
			SkippedOffsets: []int{100, 400},
			Halted:         true,
			HaltReason:     "wallet w1 drifted",
		})
	})
	if err != nil {
		t.Fatalf("SaveCursor failed: %v", err)
	}

	cursor, err := service.GetCursor(ctx, "legacy")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if cursor.NextOffset != 300 || len(cursor.SkippedOffsets) != 2 || cursor.SkippedOffsets[1] != 400 {
		t.Errorf("Unexpected cursor: %+v", cursor)
	}
	if !cursor.Halted {
		t.Errorf("Expected cursor to be halted")
	}

	if err := service.ClearHalt(ctx, "legacy"); err != nil {
		t.Fatalf("ClearHalt failed: %v", err)
	}
	cursor, _ = service.GetCursor(ctx, "legacy")
	if cursor.Halted || cursor.HaltReason != "" {
		t.Errorf("Expected halt cleared, got %+v", cursor)
	}
}

func TestUpsertItem(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	item := &models.Item{
		Id:         "course-1",
		Name:       "Go for accountants",
		Kind:       models.ItemKindCourse,
		Commission: models.CommissionConfig{Rate: decimal.NewFromInt(20), Type: models.CommissionPercentage},
		TierAOwner: "owner-a",
		TierBOwner: "owner-b",
	}
	if err := service.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
	item.Commission.Rate = decimal.NewFromInt(25)
	if err := service.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem update failed: %v", err)
	}

	got, err := service.GetItem(ctx, "course-1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !got.Commission.Rate.Equal(decimal.NewFromInt(25)) || got.TierBOwner != "owner-b" {
		t.Errorf("Unexpected item: %+v", got)
	}

	bad := &models.Item{Id: "x", Kind: "PODCAST"}
	if err := service.UpsertItem(ctx, bad); !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown kind, got %v", err)
	}
}
