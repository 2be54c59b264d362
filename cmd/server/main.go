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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"revshare-ledger-go/internal/api"
	"revshare-ledger-go/internal/common"
	"revshare-ledger-go/internal/config"
	"revshare-ledger-go/internal/listener"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	gin.SetMode(gin.ReleaseMode)
	svc := api.NewLedgerService(ctx, services.DbService, services.Engine, services.Payouts)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(svc, prometheus.DefaultGatherer),
	}

	var poller *listener.ReconcileListener
	if cfg.Reconcile.Interval > 0 {
		poller = listener.NewReconcileListener(listener.ReconcileListenerConfig{
			Runner:    services.Engine,
			Interval:  cfg.Reconcile.Interval,
			FullEvery: cfg.Reconcile.FullEvery,
		})
		if err := poller.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start reconcile listener", zap.Error(err))
		}
	}

	go func() {
		zap.L().Info("Operational API listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping server...")

	// Stop background runs first; the page in flight rolls back and the
	// cursor keeps the last committed page.
	cancel()
	if poller != nil {
		poller.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for services.Engine.Running() {
		select {
		case <-shutdownCtx.Done():
			zap.L().Warn("Reconciliation run still active at shutdown")
			return
		case <-ticker.C:
		}
	}
	zap.L().Info("Server stopped gracefully")
}
