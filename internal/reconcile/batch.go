package reconcile

import (
	"context"
	"errors"
	"fmt"

	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type action int

const (
	actionInsert action = iota
	actionDuplicate
	actionTransition
	actionConflict
)

// finder is the lookup half of the dedup check. Inside a batch it is the
// unit of work; in a dry run it is the store plus the rows the dry run
// would have written.
type finder interface {
	FindTransactionByExternalId(ctx context.Context, source, externalId string) (*models.Transaction, error)
	FindTransactionByFingerprint(ctx context.Context, source, fingerprint string) (*models.Transaction, error)
}

// applyPage validates every record of page, then merges the valid ones and
// saves next in a single unit of work. Invalid records are counted and
// skipped. The page is not committed when it pushes the run's error rate
// over the threshold or when any wallet it touched fails verification.
func (r *run) applyPage(ctx context.Context, page *models.Page, next *models.ReconciliationCursor) error {
	batch := models.ImportStats{Records: len(page.Records)}

	candidates := make([]*candidate, 0, len(page.Records))
	for i, rec := range page.Records {
		c, err := r.prepare(ctx, rec)
		if err != nil {
			if !errors.Is(err, store.ErrValidation) {
				return err
			}
			batch.Invalid++
			zap.L().Warn("Skipping invalid record",
				zap.Int("page", page.Number),
				zap.Int("index", i),
				zap.String("external_id", rec.Id),
				zap.Error(err))
			continue
		}
		if !c.mapped {
			batch.UnmappedStatuses++
			zap.L().Warn("Unmapped source status, treating as PENDING",
				zap.String("status", c.rawStatus),
				zap.String("external_id", c.txn.ExternalId))
		}
		candidates = append(candidates, c)
	}

	cumulative := r.stats
	cumulative.Add(batch)
	rate := cumulative.ErrorRate()
	r.e.metrics.SetErrorRate(rate)
	if cumulative.Records >= r.e.minSample && rate > r.e.maxErrorRate {
		r.e.metrics.ObserveBatch(metrics.BatchRolledBack)
		return fmt.Errorf("%w: %.2f%% of %d records invalid at page %d (limit %.2f%%)",
			ErrCircuitOpen, rate*100, cumulative.Records, page.Number, r.e.maxErrorRate*100)
	}

	var applied models.ImportStats
	if r.dryRun {
		applied = batch
		if err := r.simulate(ctx, candidates, &applied); err != nil {
			r.seen.discard()
			return err
		}
	} else {
		err := r.e.store.WithinTx(ctx, func(tx store.Tx) error {
			r.seen.discard()
			applied = batch

			touched := make(map[string]struct{})
			for _, c := range candidates {
				wallets, err := r.merge(ctx, tx, c, &applied)
				if err != nil {
					return err
				}
				for _, walletId := range wallets {
					touched[walletId] = struct{}{}
				}
			}
			for walletId := range touched {
				if err := tx.VerifyWallet(ctx, walletId); err != nil {
					return err
				}
			}
			return tx.SaveCursor(ctx, next)
		})
		if err != nil {
			r.seen.discard()
			r.e.metrics.ObserveBatch(metrics.BatchRolledBack)
			if errors.Is(err, store.ErrInvariantViolation) {
				r.halt(ctx, err)
			}
			return fmt.Errorf("page %d rolled back: %w", page.Number, err)
		}
	}

	r.seen.commit()
	r.cursor = next
	applied.PagesCommitted = 1
	r.stats.Add(applied)

	r.e.metrics.ObserveBatch(metrics.BatchCommitted)
	r.e.metrics.ObserveRecords(metrics.OutcomeInserted, applied.Inserted)
	r.e.metrics.ObserveRecords(metrics.OutcomeDuplicate, applied.Duplicates)
	r.e.metrics.ObserveRecords(metrics.OutcomeTransition, applied.Transitions)
	r.e.metrics.ObserveRecords(metrics.OutcomeConflict, applied.Conflicts)
	r.e.metrics.ObserveRecords(metrics.OutcomeInvalid, applied.Invalid)
	r.e.publish(r.stats)

	zap.L().Debug("Page committed",
		zap.Int("page", page.Number),
		zap.Int("records", applied.Records),
		zap.Int("inserted", applied.Inserted),
		zap.Int("duplicates", applied.Duplicates),
		zap.Int("invalid", applied.Invalid),
		zap.Bool("dry_run", r.dryRun))
	return nil
}

// classify decides what c means against what is already known: the run's
// seen-sets first, then the store. The store answer wins.
func (r *run) classify(ctx context.Context, find finder, c *candidate) (action, *models.Transaction, error) {
	name := r.e.source.Name()

	if id := c.txn.ExternalId; id != "" {
		if status, ok := r.seen.status(id); ok && status == c.txn.Status {
			return actionDuplicate, nil, nil
		}
		existing, err := find.FindTransactionByExternalId(ctx, name, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return actionInsert, nil, nil
		case err != nil:
			return 0, nil, err
		}
		switch {
		case existing.Status == c.txn.Status:
			r.seen.markId(id, existing.Status)
			return actionDuplicate, existing, nil
		case existing.Status.CanTransitionTo(c.txn.Status):
			return actionTransition, existing, nil
		}
		r.seen.markId(id, existing.Status)
		return actionConflict, existing, nil
	}

	if r.seen.hasFingerprint(c.txn.Fingerprint) {
		return actionDuplicate, nil, nil
	}
	existing, err := find.FindTransactionByFingerprint(ctx, name, c.txn.Fingerprint)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return actionInsert, nil, nil
	case err != nil:
		return 0, nil, err
	}
	r.seen.markFingerprint(c.txn.Fingerprint)
	return actionDuplicate, existing, nil
}

// merge applies c inside tx and returns the wallets it wrote to.
func (r *run) merge(ctx context.Context, tx store.Tx, c *candidate, stats *models.ImportStats) ([]string, error) {
	act, existing, err := r.classify(ctx, tx, c)
	if err != nil {
		return nil, err
	}

	switch act {
	case actionDuplicate:
		stats.Duplicates++
		return nil, nil

	case actionConflict:
		stats.Conflicts++
		zap.L().Warn("Ignoring disallowed status change",
			zap.String("external_id", c.txn.ExternalId),
			zap.String("stored", string(existing.Status)),
			zap.String("incoming", string(c.txn.Status)))
		return nil, nil

	case actionTransition:
		prev := existing.Status
		touched, err := r.e.recorder.Transition(ctx, tx, existing, c.txn.Status, c.at)
		if err != nil {
			return nil, fmt.Errorf("transaction %s %s -> %s: %w", existing.Id, prev, c.txn.Status, err)
		}
		r.seen.markId(c.txn.ExternalId, c.txn.Status)
		stats.Transitions++
		trackSuccess(stats, existing.Amount, prev, c.txn.Status)
		return touched, nil
	}

	if err := tx.InsertTransaction(ctx, c.txn); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			stats.Duplicates++
			return nil, nil
		}
		return nil, err
	}
	r.markInserted(c)
	stats.Inserted++

	if c.txn.Status != models.StatusSuccess {
		return nil, nil
	}
	dist, err := r.e.recorder.Record(ctx, tx, c.txn)
	if err != nil {
		return nil, err
	}
	stats.SuccessAmount = stats.SuccessAmount.Add(c.txn.Amount)
	return dist.Touched, nil
}

// simulate counts what merge would do without writing.
func (r *run) simulate(ctx context.Context, candidates []*candidate, stats *models.ImportStats) error {
	for _, c := range candidates {
		act, existing, err := r.classify(ctx, r.dry, c)
		if err != nil {
			return err
		}
		switch act {
		case actionDuplicate:
			stats.Duplicates++
		case actionConflict:
			stats.Conflicts++
		case actionTransition:
			stats.Transitions++
			trackSuccess(stats, existing.Amount, existing.Status, c.txn.Status)
			r.dry.transition(existing, c.txn.Status)
			r.seen.markId(c.txn.ExternalId, c.txn.Status)
		case actionInsert:
			stats.Inserted++
			if c.txn.Status == models.StatusSuccess {
				stats.SuccessAmount = stats.SuccessAmount.Add(c.txn.Amount)
			}
			r.dry.insert(c.txn)
			r.markInserted(c)
		}
	}
	return nil
}

func (r *run) markInserted(c *candidate) {
	if c.txn.ExternalId != "" {
		r.seen.markId(c.txn.ExternalId, c.txn.Status)
		return
	}
	r.seen.markFingerprint(c.txn.Fingerprint)
}

// trackSuccess keeps SuccessAmount as the net change of the SUCCESS total.
func trackSuccess(stats *models.ImportStats, amount decimal.Decimal, from, to models.TransactionStatus) {
	switch {
	case to == models.StatusSuccess:
		stats.SuccessAmount = stats.SuccessAmount.Add(amount)
	case from == models.StatusSuccess:
		stats.SuccessAmount = stats.SuccessAmount.Sub(amount)
	}
}

// dryRunFinder answers lookups from the rows a dry run would have written,
// falling back to the store.
type dryRunFinder struct {
	store         store.LedgerStore
	byExternalId  map[string]*models.Transaction
	byFingerprint map[string]*models.Transaction
}

func newDryRunFinder(s store.LedgerStore) *dryRunFinder {
	return &dryRunFinder{
		store:         s,
		byExternalId:  make(map[string]*models.Transaction),
		byFingerprint: make(map[string]*models.Transaction),
	}
}

func (d *dryRunFinder) FindTransactionByExternalId(ctx context.Context, source, externalId string) (*models.Transaction, error) {
	if txn, ok := d.byExternalId[externalId]; ok {
		return txn, nil
	}
	return d.store.FindTransactionByExternalId(ctx, source, externalId)
}

func (d *dryRunFinder) FindTransactionByFingerprint(ctx context.Context, source, fingerprint string) (*models.Transaction, error) {
	if txn, ok := d.byFingerprint[fingerprint]; ok {
		return txn, nil
	}
	return d.store.FindTransactionByFingerprint(ctx, source, fingerprint)
}

func (d *dryRunFinder) insert(txn *models.Transaction) {
	if txn.ExternalId != "" {
		d.byExternalId[txn.ExternalId] = txn
		return
	}
	d.byFingerprint[txn.Fingerprint] = txn
}

func (d *dryRunFinder) transition(existing *models.Transaction, to models.TransactionStatus) {
	updated := *existing
	updated.Status = to
	d.byExternalId[existing.ExternalId] = &updated
}
