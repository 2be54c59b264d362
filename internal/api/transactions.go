package api

import (
	"context"

	"revshare-ledger-go/internal/models"
)

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return s.db.GetTransaction(ctx, id)
}

// FindTransaction looks a sale up by the id the legacy source gave it.
func (s *LedgerService) FindTransaction(ctx context.Context, source, externalId string) (*models.Transaction, error) {
	return s.db.FindTransactionByExternalId(ctx, source, externalId)
}

func (s *LedgerService) GetConversion(ctx context.Context, transactionId string) (*models.AffiliateConversion, error) {
	return s.db.GetConversion(ctx, transactionId)
}
