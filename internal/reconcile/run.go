package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/source"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
)

// run is the state of one pass over the source.
type run struct {
	e      *Engine
	resume bool
	dryRun bool

	cursor *models.ReconciliationCursor
	seen   *seenSet
	items  map[string]*models.Item
	dry    *dryRunFinder

	stats      models.ImportStats
	pages      int
	failStreak int
}

func (e *Engine) newRun(ctx context.Context, resume, dryRun bool) (*run, error) {
	name := e.source.Name()

	cursor, err := e.store.GetCursor(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cursor = &models.ReconciliationCursor{Source: name, Mode: e.source.Mode()}
	case err != nil:
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	if cursor.Halted && !dryRun {
		return nil, fmt.Errorf("%w: %s", store.ErrHalted, cursor.HaltReason)
	}
	if resume && cursor.Mode != "" && cursor.Mode != e.source.Mode() {
		return nil, fmt.Errorf("%w: cursor was written in %s mode, source pages in %s mode",
			store.ErrConfiguration, cursor.Mode, e.source.Mode())
	}
	if !resume {
		cursor = &models.ReconciliationCursor{Source: name}
	}
	cursor.Mode = e.source.Mode()

	keys, err := e.store.LoadSeenKeys(ctx, name)
	if err != nil {
		return nil, err
	}

	r := &run{
		e:      e,
		resume: resume,
		dryRun: dryRun,
		cursor: cursor,
		seen:   newSeenSet(keys),
		items:  make(map[string]*models.Item),
	}
	if dryRun {
		r.dry = newDryRunFinder(e.store)
	}
	return r, nil
}

func (r *run) execute(ctx context.Context) error {
	if r.e.source.Mode() == models.PaginationCursor {
		return r.cursorPages(ctx)
	}
	return r.offsetPages(ctx)
}

// offsetPages fetches pages in windows of e.workers and commits them in
// order. Pages skipped by an earlier run are retried first when resuming.
// A failed page is skipped; the run only gives up after maxFailedPages
// failures in a row.
func (r *run) offsetPages(ctx context.Context) error {
	size := r.e.source.PageSize()

	if r.resume && len(r.cursor.SkippedOffsets) > 0 {
		zap.L().Info("Retrying pages skipped by an earlier run",
			zap.Ints("offsets", r.cursor.SkippedOffsets))
		for _, offsets := range chunk(slices.Clone(r.cursor.SkippedOffsets), r.e.workers) {
			for _, res := range r.fetchWindow(ctx, offsetRequests(offsets, size)) {
				if _, err := r.handle(ctx, res, true); err != nil {
					return err
				}
			}
		}
	}

	offset := r.cursor.NextOffset
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := r.e.workers
		if r.e.maxPages > 0 {
			remaining := r.e.maxPages - r.pages
			if remaining <= 0 {
				zap.L().Info("Page limit reached, stopping run", zap.Int("max_pages", r.e.maxPages))
				return nil
			}
			n = min(n, remaining)
		}

		offsets := make([]int, n)
		for i := range offsets {
			offsets[i] = offset + i*size
		}

		for _, res := range r.fetchWindow(ctx, offsetRequests(offsets, size)) {
			done, err := r.handle(ctx, res, false)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if res.err == nil {
				r.failStreak = 0
				continue
			}
			r.failStreak++
			if r.failStreak >= r.e.maxFailedPages {
				return fmt.Errorf("%w: %d consecutive pages failed, last at offset %d",
					store.ErrSourceUnavailable, r.failStreak, res.req.Offset)
			}
		}
		offset += n * size
	}
}

// handle commits one fetched page, or records it as skipped when the fetch
// failed. It reports whether the page was the last one.
func (r *run) handle(ctx context.Context, res pageResult, retry bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.pages++

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			return false, res.err
		}
		return false, r.skipPage(ctx, res.req, res.err, retry)
	}

	r.stats.PagesFetched++
	done := !retry && !res.page.HasMore

	next := r.nextCursor()
	size := r.e.source.PageSize()
	if retry {
		next.SkippedOffsets = slices.DeleteFunc(next.SkippedOffsets, func(o int) bool { return o == res.page.Offset })
	} else {
		advanced := res.page.Offset + size
		if done {
			advanced = res.page.Offset + len(res.page.Records)
			next.Completed = true
		}
		next.NextOffset = max(next.NextOffset, advanced)
	}

	return done, r.applyPage(ctx, res.page, next)
}

// cursorPages walks a cursor-paginated source one page at a time. Without a
// token for the page after a failed one, a failure ends the run.
func (r *run) cursorPages(ctx context.Context) error {
	size := r.e.source.PageSize()
	token := r.cursor.NextCursor

	for number := 0; ; number++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.e.maxPages > 0 && r.pages >= r.e.maxPages {
			zap.L().Info("Page limit reached, stopping run", zap.Int("max_pages", r.e.maxPages))
			return nil
		}

		r.pages++
		page, err := r.e.source.FetchPage(ctx, source.PageRequest{Number: number, Cursor: token, Limit: size})
		if err != nil {
			r.stats.PagesSkipped++
			r.e.metrics.ObserveBatch(metrics.BatchSkipped)
			return fmt.Errorf("page %d at cursor %q: %w", number, token, err)
		}
		r.stats.PagesFetched++

		done := !page.HasMore || page.NextCursor == ""
		next := r.nextCursor()
		next.NextCursor = page.NextCursor
		if done {
			next.Completed = true
			if page.NextCursor == "" {
				next.NextCursor = page.Cursor
			}
		}

		if err := r.applyPage(ctx, page, next); err != nil {
			return err
		}
		if done {
			return nil
		}
		token = page.NextCursor
	}
}

// skipPage records a page that exhausted its retries so a resumed run can
// try it again, and lets the run continue.
func (r *run) skipPage(ctx context.Context, req source.PageRequest, cause error, retry bool) error {
	zap.L().Warn("Skipping page after repeated failures",
		zap.String("source", r.e.source.Name()),
		zap.Int("page", req.Number),
		zap.Int("offset", req.Offset),
		zap.Error(cause))

	r.stats.PagesSkipped++
	r.e.metrics.ObserveBatch(metrics.BatchSkipped)
	r.e.publish(r.stats)

	next := r.nextCursor()
	if !slices.Contains(next.SkippedOffsets, req.Offset) {
		next.SkippedOffsets = append(next.SkippedOffsets, req.Offset)
		slices.Sort(next.SkippedOffsets)
	}
	if !retry {
		next.NextOffset = max(next.NextOffset, req.Offset+r.e.source.PageSize())
	}

	if r.dryRun {
		r.cursor = next
		return nil
	}
	if err := r.e.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.SaveCursor(ctx, next)
	}); err != nil {
		return fmt.Errorf("failed to record skipped page %d: %w", req.Number, err)
	}
	r.cursor = next
	return nil
}

// halt marks the source so no further run writes until an operator has
// reviewed the ledger and cleared the halt.
func (r *run) halt(ctx context.Context, cause error) {
	next := r.nextCursor()
	next.Halted = true
	next.HaltReason = cause.Error()

	ctx = context.WithoutCancel(ctx)
	err := r.e.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.SaveCursor(ctx, next)
	})
	if err != nil {
		zap.L().Error("Failed to persist reconciliation halt",
			zap.String("source", r.e.source.Name()),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	r.cursor = next
	zap.L().Error("Reconciliation halted pending manual review",
		zap.String("source", r.e.source.Name()),
		zap.String("reason", next.HaltReason))
}

func (r *run) nextCursor() *models.ReconciliationCursor {
	next := *r.cursor
	next.SkippedOffsets = slices.Clone(r.cursor.SkippedOffsets)
	return &next
}
