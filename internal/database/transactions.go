package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InsertTransaction stores a canonical transaction. A collision on the
// external id or, for id-less records, on the fingerprint is ErrDuplicate.
func (t *subledgerTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	var externalId, anonymousFingerprint sql.NullString
	if txn.ExternalId != "" {
		externalId = sql.NullString{String: txn.ExternalId, Valid: true}
	} else {
		anonymousFingerprint = sql.NullString{String: txn.Fingerprint, Valid: true}
	}

	var paidAt sql.NullTime
	if txn.PaidAt != nil {
		paidAt = sql.NullTime{Time: txn.PaidAt.UTC(), Valid: true}
	}

	now := time.Now().UTC()
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = now
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}

	_, err := t.tx.ExecContext(ctx, queryInsertTransaction,
		txn.Id, txn.Amount.String(), string(txn.Status), txn.ItemId, string(txn.ItemKind),
		txn.AffiliateRef, txn.BuyerRef, txn.Source,
		externalId, txn.Fingerprint, anonymousFingerprint,
		txn.Commission.Rate.String(), string(txn.Commission.Type),
		txn.CreatedAt.UTC(), paidAt, txn.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			zap.L().Debug("Duplicate transaction rejected by store",
				zap.String("source", txn.Source),
				zap.String("external_id", txn.ExternalId),
				zap.String("fingerprint", txn.Fingerprint))
			return fmt.Errorf("%w: transaction %s/%s", store.ErrDuplicate, txn.Source, txn.ExternalId)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *subledgerTx) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *subledgerTx) FindTransactionByExternalId(ctx context.Context, source, externalId string) (*models.Transaction, error) {
	return findTransactionByExternalId(ctx, t.tx, source, externalId)
}

func (t *subledgerTx) FindTransactionByFingerprint(ctx context.Context, source, fingerprint string) (*models.Transaction, error) {
	return findTransactionByFingerprint(ctx, t.tx, source, fingerprint)
}

// UpdateTransactionStatus moves a transaction along the allowed status graph.
// paid_at is stamped when the new status is SUCCESS.
func (t *subledgerTx) UpdateTransactionStatus(ctx context.Context, id string, status models.TransactionStatus, at time.Time) error {
	current, err := t.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: transaction %s %s -> %s", store.ErrInvalidTransition, id, current.Status, status)
	}

	var paidAt sql.NullTime
	if status == models.StatusSuccess {
		paidAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	result, err := t.tx.ExecContext(ctx, queryUpdateTransactionStatus,
		string(status), paidAt, time.Now().UTC(), id, string(current.Status))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction %s status update failed - %w", id, store.ErrConcurrentModification)
	}

	zap.L().Info("Transaction status updated",
		zap.String("transaction_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)))
	return nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var txn models.Transaction
	var amountStr, status, itemKind, rateStr, commissionType string
	var paidAt sql.NullTime
	if err := row.Scan(&txn.Id, &amountStr, &status, &txn.ItemId, &itemKind, &txn.AffiliateRef,
		&txn.BuyerRef, &txn.Source, &txn.ExternalId, &txn.Fingerprint, &rateStr, &commissionType,
		&txn.CreatedAt, &paidAt, &txn.UpdatedAt); err != nil {
		return nil, err
	}
	txn.Status = models.TransactionStatus(status)
	txn.ItemKind = models.ItemKind(itemKind)
	txn.Commission.Type = models.CommissionType(commissionType)
	if paidAt.Valid {
		paid := paidAt.Time
		txn.PaidAt = &paid
	}

	var err error
	if txn.Amount, err = parseDecimal("amount", amountStr); err != nil {
		return nil, err
	}
	if txn.Commission.Rate, err = parseDecimal("commission_rate", rateStr); err != nil {
		return nil, err
	}
	return &txn, nil
}

func getTransaction(ctx context.Context, q queryer, id string) (*models.Transaction, error) {
	txn, err := scanTransaction(q.QueryRowContext(ctx, queryGetTransaction, id))
	if err != nil {
		return nil, notFound(err, "transaction %s", id)
	}
	return txn, nil
}

func findTransactionByExternalId(ctx context.Context, q queryer, source, externalId string) (*models.Transaction, error) {
	txn, err := scanTransaction(q.QueryRowContext(ctx, queryFindTransactionByExternalId, source, externalId))
	if err != nil {
		return nil, notFound(err, "transaction %s/%s", source, externalId)
	}
	return txn, nil
}

func findTransactionByFingerprint(ctx context.Context, q queryer, source, fingerprint string) (*models.Transaction, error) {
	txn, err := scanTransaction(q.QueryRowContext(ctx, queryFindTransactionByFingerprint, source, fingerprint))
	if err != nil {
		return nil, notFound(err, "transaction with fingerprint %s", fingerprint)
	}
	return txn, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func (s *Service) FindTransactionByExternalId(ctx context.Context, source, externalId string) (*models.Transaction, error) {
	return findTransactionByExternalId(ctx, s.db, source, externalId)
}

func (s *Service) FindTransactionByFingerprint(ctx context.Context, source, fingerprint string) (*models.Transaction, error) {
	return findTransactionByFingerprint(ctx, s.db, source, fingerprint)
}

func (s *Service) CountTransactions(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryCountTransactions).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// SumTransactions adds up the amounts of every transaction in status with
// exact decimal arithmetic.
func (s *Service) SumTransactions(ctx context.Context, status models.TransactionStatus) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, queryTransactionAmountsByStatus, string(status))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	total := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := parseDecimal("amount", amountStr)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}

	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return total, nil
}

// LoadSeenKeys rebuilds dedup-set membership for source from stored rows.
func (s *Service) LoadSeenKeys(ctx context.Context, source string) (*store.SeenKeys, error) {
	seen := &store.SeenKeys{
		ExternalIds:  make(map[string]models.TransactionStatus),
		Fingerprints: make(map[string]struct{}),
	}

	err := scanKeys(ctx, s.db, querySeenExternalIds, source, func(rows *sql.Rows) error {
		var externalId, status string
		if err := rows.Scan(&externalId, &status); err != nil {
			return err
		}
		seen.ExternalIds[externalId] = models.TransactionStatus(status)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load seen external ids: %w", err)
	}

	err = scanKeys(ctx, s.db, querySeenFingerprints, source, func(rows *sql.Rows) error {
		var fingerprint string
		if err := rows.Scan(&fingerprint); err != nil {
			return err
		}
		seen.Fingerprints[fingerprint] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load seen fingerprints: %w", err)
	}

	zap.L().Info("Loaded dedup keys from store",
		zap.String("source", source),
		zap.Int("external_ids", len(seen.ExternalIds)),
		zap.Int("fingerprints", len(seen.Fingerprints)))
	return seen, nil
}

func scanKeys(ctx context.Context, q queryer, query, source string, scan func(rows *sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, source)
	if err != nil {
		return err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
