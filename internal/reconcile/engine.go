/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/recorder"
	"revshare-ledger-go/internal/source"
	"revshare-ledger-go/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("reconciliation run already in progress")
	// ErrCircuitOpen is returned when the cumulative error rate of a run
	// crosses the configured threshold.
	ErrCircuitOpen = errors.New("error rate above threshold")
)

// defaultMaxFailedPages applies when the settings leave the limit unset.
const defaultMaxFailedPages = 10

// EngineConfig contains configuration for Engine
type EngineConfig struct {
	Source   source.Source
	Store    store.LedgerStore
	Recorder *recorder.Recorder
	Statuses *StatusMapper
	Metrics  *metrics.Metrics
	Settings models.ReconcileConfig
}

// StartOptions selects where a run begins.
type StartOptions struct {
	// Resume continues from the persisted cursor, retrying skipped pages
	// first, instead of starting at the first page.
	Resume bool
}

// Engine merges the legacy source into the canonical store. One run at a
// time; each page is committed atomically together with the cursor.
type Engine struct {
	source   source.Source
	store    store.LedgerStore
	recorder *recorder.Recorder
	statuses *StatusMapper
	metrics  *metrics.Metrics
	validate *validator.Validate

	workers        int
	maxErrorRate   float64
	minSample      int
	maxPages       int
	maxFailedPages int

	mutex   sync.RWMutex
	running bool
	status  models.RunStatus
}

// NewEngine creates a new reconciliation engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Source == nil || cfg.Store == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("%w: engine needs a source, a store and a recorder", store.ErrConfiguration)
	}
	if cfg.Settings.MaxErrorRate < 0 || cfg.Settings.MaxErrorRate > 1 {
		return nil, fmt.Errorf("%w: max error rate %v outside [0,1]", store.ErrConfiguration, cfg.Settings.MaxErrorRate)
	}

	maxFailedPages := cfg.Settings.MaxFailedPages
	if maxFailedPages <= 0 {
		maxFailedPages = defaultMaxFailedPages
	}

	statuses := cfg.Statuses
	if statuses == nil {
		var err error
		if statuses, err = NewStatusMapper(nil); err != nil {
			return nil, err
		}
	}

	return &Engine{
		source:       cfg.Source,
		store:        cfg.Store,
		recorder:     cfg.Recorder,
		statuses:     statuses,
		metrics:      cfg.Metrics,
		validate:     newValidator(),
		workers:        max(1, cfg.Settings.Workers),
		maxErrorRate:   cfg.Settings.MaxErrorRate,
		minSample:      max(0, cfg.Settings.MinSample),
		maxPages:       max(0, cfg.Settings.MaxPages),
		maxFailedPages: maxFailedPages,
		status: models.RunStatus{
			Source: cfg.Source.Name(),
			State:  models.RunIdle,
		},
	}, nil
}

// Start runs a reconciliation to completion and returns its final status.
func (e *Engine) Start(ctx context.Context, opts StartOptions) (*models.RunStatus, error) {
	if err := e.begin(false); err != nil {
		return nil, err
	}
	return e.execute(ctx, opts.Resume, false)
}

// StartAsync claims the engine and runs the reconciliation in the background.
// Progress is visible through Status.
func (e *Engine) StartAsync(ctx context.Context, opts StartOptions) error {
	if err := e.begin(false); err != nil {
		return err
	}
	go func() {
		_, _ = e.execute(ctx, opts.Resume, false)
	}()
	return nil
}

// DryRun walks the whole source and reports what a run would import without
// writing anything.
func (e *Engine) DryRun(ctx context.Context) (*models.RunStatus, error) {
	if err := e.begin(true); err != nil {
		return nil, err
	}
	return e.execute(ctx, false, true)
}

// Status returns the state of the current or last run, with the persisted
// cursor when there is one.
func (e *Engine) Status(ctx context.Context) models.RunStatus {
	e.mutex.RLock()
	status := e.status
	e.mutex.RUnlock()

	cursor, err := e.store.GetCursor(ctx, e.source.Name())
	if err == nil {
		status.Cursor = cursor
	} else if !errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Failed to load reconciliation cursor", zap.Error(err))
	}
	return status
}

// Running reports whether a run currently holds the engine.
func (e *Engine) Running() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

func (e *Engine) begin(dryRun bool) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running {
		return ErrRunInProgress
	}
	e.running = true
	e.status = models.RunStatus{
		Source:    e.source.Name(),
		State:     models.RunRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, resume, dryRun bool) (*models.RunStatus, error) {
	started := time.Now()
	zap.L().Info("Starting reconciliation run",
		zap.String("source", e.source.Name()),
		zap.String("mode", string(e.source.Mode())),
		zap.Bool("resume", resume),
		zap.Bool("dry_run", dryRun),
		zap.Int("workers", e.workers))

	r, err := e.newRun(ctx, resume, dryRun)
	if err == nil {
		err = r.execute(ctx)
	}

	var stats models.ImportStats
	if r != nil {
		stats = r.stats
	}
	status := e.finish(stats, err, started)

	fields := []zap.Field{
		zap.String("source", status.Source),
		zap.String("state", string(status.State)),
		zap.Int("records", stats.Records),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("transitions", stats.Transitions),
		zap.Int("conflicts", stats.Conflicts),
		zap.Int("invalid", stats.Invalid),
		zap.Int("pages_committed", stats.PagesCommitted),
		zap.Int("pages_skipped", stats.PagesSkipped),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		zap.L().Error("Reconciliation run ended", append(fields, zap.Error(err))...)
		return &status, err
	}
	zap.L().Info("Reconciliation run ended", fields...)
	return &status, nil
}

func (e *Engine) finish(stats models.ImportStats, err error, started time.Time) models.RunStatus {
	state := models.RunCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		state = models.RunCanceled
	case errors.Is(err, ErrCircuitOpen):
		state = models.RunAborted
	default:
		state = models.RunFailed
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.running = false
	e.status.State = state
	e.status.Stats = stats
	e.status.FinishedAt = time.Now().UTC()
	if err != nil {
		e.status.LastError = err.Error()
	}
	e.metrics.ObserveRun(string(state), started)
	return e.status
}

// publish exposes in-flight counters to Status.
func (e *Engine) publish(stats models.ImportStats) {
	e.mutex.Lock()
	e.status.Stats = stats
	e.mutex.Unlock()
}
