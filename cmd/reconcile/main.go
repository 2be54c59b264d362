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
	"flag"
	"os"
	"os/signal"
	"syscall"

	"revshare-ledger-go/internal/common"
	"revshare-ledger-go/internal/config"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/reconcile"

	"go.uber.org/zap"
)

func main() {
	resumeFlag := flag.Bool("resume", false, "Continue from the saved cursor and retry skipped pages")
	dryRunFlag := flag.Bool("dry-run", false, "Walk the source and report what would be imported without writing")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var status *models.RunStatus
	if *dryRunFlag {
		status, err = services.Engine.DryRun(ctx)
	} else {
		status, err = services.Engine.Start(ctx, reconcile.StartOptions{Resume: *resumeFlag})
	}

	if status != nil {
		final := services.Engine.Status(context.WithoutCancel(ctx))
		status.Cursor = final.Cursor
		common.PrintRunStatus(status, cfg.Split.Scale)
	}

	if err != nil {
		zap.L().Error("Reconciliation did not complete", zap.Error(err))
		loggerCleanup()
		os.Exit(1)
	}
}
