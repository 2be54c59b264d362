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

package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/reconcile"
	"revshare-ledger-go/internal/store"

	"go.uber.org/zap"
)

// Runner is the part of the reconciliation engine the listener drives.
type Runner interface {
	Start(ctx context.Context, opts reconcile.StartOptions) (*models.RunStatus, error)
}

// ReconcileListenerConfig contains configuration for ReconcileListener
type ReconcileListenerConfig struct {
	Runner   Runner
	Interval time.Duration

	// FullEvery makes every Nth poll a run from the first page so status
	// changes on already-imported orders are picked up. Zero means never.
	FullEvery int
}

// ReconcileListener keeps the store in step with the legacy source by
// running a resumed reconciliation on every tick.
type ReconcileListener struct {
	runner    Runner
	interval  time.Duration
	fullEvery int
	polls     int

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewReconcileListener(cfg ReconcileListenerConfig) *ReconcileListener {
	return &ReconcileListener{
		runner:    cfg.Runner,
		interval:  cfg.Interval,
		fullEvery: cfg.FullEvery,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start begins polling in the background
func (l *ReconcileListener) Start(ctx context.Context) error {
	if l.runner == nil || l.interval <= 0 {
		return fmt.Errorf("%w: listener needs a runner and a positive interval", store.ErrConfiguration)
	}

	go l.pollLoop(ctx)

	zap.L().Info("Reconcile listener started",
		zap.Duration("interval", l.interval),
		zap.Int("full_every", l.fullEvery))
	return nil
}

// Stop waits for the poll in flight to finish
func (l *ReconcileListener) Stop() {
	zap.L().Info("Stopping reconcile listener")
	close(l.stopChan)
	<-l.doneChan
	zap.L().Info("Reconcile listener stopped")
}

func (l *ReconcileListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.poll(ctx)

	for {
		select {
		case <-ticker.C:
			l.poll(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *ReconcileListener) poll(ctx context.Context) {
	l.polls++
	full := l.fullEvery > 0 && l.polls%l.fullEvery == 0

	status, err := l.runner.Start(ctx, reconcile.StartOptions{Resume: !full})
	switch {
	case errors.Is(err, reconcile.ErrRunInProgress):
		zap.L().Debug("Skipping poll, a run is already active")
	case errors.Is(err, store.ErrHalted):
		zap.L().Warn("Skipping poll, reconciliation is halted", zap.Error(err))
	case err != nil:
		zap.L().Error("Scheduled reconciliation failed",
			zap.Bool("full", full),
			zap.Error(err))
	default:
		zap.L().Info("Scheduled reconciliation finished",
			zap.Bool("full", full),
			zap.Int("inserted", status.Stats.Inserted),
			zap.Int("transitions", status.Stats.Transitions),
			zap.Int("pages_skipped", status.Stats.PagesSkipped))
	}
}
