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

package api

import (
	"errors"
	"net/http"
	"time"

	"revshare-ledger-go/internal/reconcile"
	"revshare-ledger-go/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the operational HTTP surface. Callers pick the gin mode.
func NewRouter(svc *LedgerService, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(recoveryMiddleware())
	r.Use(loggerMiddleware())

	h := &handler{svc: svc}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		rec := v1.Group("/reconcile")
		{
			rec.POST("/start", h.startReconcile)
			rec.POST("/dry-run", h.dryRun)
			rec.GET("/status", h.reconcileStatus)
		}

		wallets := v1.Group("/wallets")
		{
			wallets.GET("", h.listWallets)
			wallets.GET("/:id", h.getWallet)
			wallets.GET("/:id/entries", h.getLedgerEntries)
			wallets.GET("/:id/audit", h.auditWallet)
			wallets.GET("/:id/payouts", h.listPayouts)
			wallets.POST("/:id/approve-earnings", h.approveEarnings)
		}

		txns := v1.Group("/transactions")
		{
			txns.GET("/:id", h.getTransaction)
			txns.GET("/:id/conversion", h.getConversion)
		}
		v1.GET("/sources/:source/transactions/:externalId", h.findTransaction)

		payouts := v1.Group("/payouts")
		{
			payouts.POST("", h.requestPayout)
			payouts.GET("/:id", h.getPayout)
			payouts.POST("/:id/approve", h.approvePayout)
			payouts.POST("/:id/reject", h.rejectPayout)
			payouts.POST("/:id/process", h.processPayout)
			payouts.POST("/:id/complete", h.completePayout)
		}
	}

	return r
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		zap.L().Info("Request processed", fields...)
	}
}

func recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		zap.L().Error("Handler panicked",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal error"))
	})
}

// statusFor maps store and engine sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, store.ErrHalted),
		errors.Is(err, reconcile.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, store.ErrSourceUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
