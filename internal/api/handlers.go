package api

import (
	"context"
	"net/http"
	"strconv"

	"revshare-ledger-go/internal/models"

	"github.com/gin-gonic/gin"
)

type handler struct {
	svc *LedgerService
}

func errorBody(message string) models.ErrorResponse {
	return models.ErrorResponse{Error: message}
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, errorBody(message))
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(err.Error()))
}

func (h *handler) health(c *gin.Context) {
	if err := h.svc.HealthCheck(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /api/v1/reconcile/start
func (h *handler) startReconcile(c *gin.Context) {
	var req models.StartReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	status, err := h.svc.StartReconciliation(c.Request.Context(), req.Resume)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

// POST /api/v1/reconcile/dry-run
func (h *handler) dryRun(c *gin.Context) {
	status, err := h.svc.DryRun(c.Request.Context())
	if err != nil && status == nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/reconcile/status
func (h *handler) reconcileStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.ReconcileStatus(c.Request.Context()))
}

func (h *handler) listWallets(c *gin.Context) {
	wallets, err := h.svc.ListWallets(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": wallets})
}

func (h *handler) getWallet(c *gin.Context) {
	wallet, err := h.svc.GetWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// GET /api/v1/wallets/:id/entries?limit=20&offset=0
func (h *handler) getLedgerEntries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.svc.GetLedgerEntries(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *handler) auditWallet(c *gin.Context) {
	audit, err := h.svc.AuditWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}

func (h *handler) approveEarnings(c *gin.Context) {
	var req models.ApproveEarningsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	wallet, err := h.svc.ApproveEarnings(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *handler) listPayouts(c *gin.Context) {
	payouts, err := h.svc.ListPayouts(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

func (h *handler) getTransaction(c *gin.Context) {
	txn, err := h.svc.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (h *handler) getConversion(c *gin.Context) {
	conv, err := h.svc.GetConversion(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handler) findTransaction(c *gin.Context) {
	txn, err := h.svc.FindTransaction(c.Request.Context(), c.Param("source"), c.Param("externalId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// POST /api/v1/payouts
func (h *handler) requestPayout(c *gin.Context) {
	var req models.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payout, err := h.svc.RequestPayout(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (h *handler) getPayout(c *gin.Context) {
	payout, err := h.svc.GetPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (h *handler) approvePayout(c *gin.Context) {
	h.payoutTransition(c, h.svc.ApprovePayout)
}

func (h *handler) processPayout(c *gin.Context) {
	h.payoutTransition(c, h.svc.ProcessPayout)
}

func (h *handler) completePayout(c *gin.Context) {
	h.payoutTransition(c, h.svc.CompletePayout)
}

func (h *handler) rejectPayout(c *gin.Context) {
	var req models.RejectPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payout, err := h.svc.RejectPayout(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}

func (h *handler) payoutTransition(c *gin.Context, apply func(ctx context.Context, payoutId string) (*models.Payout, error)) {
	payout, err := apply(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payout)
}
