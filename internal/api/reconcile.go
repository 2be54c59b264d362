package api

import (
	"context"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/reconcile"
)

// StartReconciliation launches a run in the background and returns the
// engine status right after the run was claimed.
func (s *LedgerService) StartReconciliation(ctx context.Context, resume bool) (models.RunStatus, error) {
	if err := s.engine.StartAsync(s.runCtx, reconcile.StartOptions{Resume: resume}); err != nil {
		return models.RunStatus{}, err
	}
	return s.engine.Status(ctx), nil
}

// DryRun walks the source synchronously without writing.
func (s *LedgerService) DryRun(ctx context.Context) (*models.RunStatus, error) {
	return s.engine.DryRun(ctx)
}

func (s *LedgerService) ReconcileStatus(ctx context.Context) models.RunStatus {
	return s.engine.Status(ctx)
}
