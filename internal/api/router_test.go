package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"revshare-ledger-go/internal/database"
	"revshare-ledger-go/internal/metrics"
	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/payout"
	"revshare-ledger-go/internal/reconcile"
	"revshare-ledger-go/internal/recorder"
	"revshare-ledger-go/internal/source"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singlePageSource serves every record on one offset page.
type singlePageSource struct {
	records []models.SourceRecord
}

func (s *singlePageSource) Name() string                { return "legacy" }
func (s *singlePageSource) Mode() models.PaginationMode { return models.PaginationOffset }
func (s *singlePageSource) PageSize() int               { return 100 }

func (s *singlePageSource) FetchPage(_ context.Context, req source.PageRequest) (*models.Page, error) {
	page := &models.Page{Number: req.Number, Offset: req.Offset}
	if req.Offset == 0 {
		page.Records = s.records
	}
	return page, nil
}

type testServer struct {
	router  *gin.Engine
	service *database.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	service, err := database.NewService(ctx, models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(service.Close)

	require.NoError(t, service.UpsertItem(ctx, &models.Item{
		Id:         "course-1",
		Name:       "Course",
		Kind:       models.ItemKindCourse,
		Commission: models.CommissionConfig{Rate: decimal.NewFromInt(20), Type: models.CommissionPercentage},
		TierAOwner: "owner-a",
		TierBOwner: "owner-b",
	}))

	rec, err := recorder.NewRecorder(models.SplitConfig{
		PlatformFeeRate: decimal.RequireFromString("0.15"),
		TierARate:       decimal.RequireFromString("0.60"),
		Scale:           2,
		PlatformParty:   "platform",
	}, models.LedgerConfig{})
	require.NoError(t, err)

	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	src := &singlePageSource{records: []models.SourceRecord{
		{Id: "o-1", BuyerRef: "buyer-1", Amount: "100.00", Status: "paid", ItemRef: "course-1", AffiliateRef: "aff-1", CreatedAt: created},
		{Id: "o-2", BuyerRef: "buyer-2", Amount: "50.00", Status: "pending", ItemRef: "course-1", CreatedAt: created.Add(time.Minute)},
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine, err := reconcile.NewEngine(reconcile.EngineConfig{
		Source:   src,
		Store:    service,
		Recorder: rec,
		Metrics:  m,
		Settings: models.ReconcileConfig{Workers: 2, MaxErrorRate: 0.5},
	})
	require.NoError(t, err)

	svc := NewLedgerService(ctx, service, engine, payout.NewProcessor(service, m))
	return &testServer{router: NewRouter(svc, reg), service: service}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// importAll runs a reconciliation through the API and waits for it to end.
func (s *testServer) importAll(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/reconcile/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reconcile/status", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		var status models.RunStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.State == models.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *testServer) walletId(t *testing.T, party models.PartyType, ref string) string {
	t.Helper()
	w, err := s.service.FindWallet(context.Background(), party, ref)
	require.NoError(t, err)
	return w.Id
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDryRunWritesNothing(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/reconcile/dry-run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status := decode[models.RunStatus](t, w)
	assert.True(t, status.DryRun)
	assert.Equal(t, 2, status.Stats.Inserted)
	assert.True(t, status.Stats.SuccessAmount.Equal(decimal.NewFromInt(100)))

	n, err := s.service.CountTransactions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileAndQuery(t *testing.T) {
	s := newTestServer(t)
	s.importAll(t)

	w := s.do(t, http.MethodGet, "/api/v1/sources/legacy/transactions/o-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	txn := decode[models.Transaction](t, w)
	assert.Equal(t, models.StatusSuccess, txn.Status)

	w = s.do(t, http.MethodGet, "/api/v1/transactions/"+txn.Id+"/conversion", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conv := decode[models.AffiliateConversion](t, w)
	assert.True(t, conv.CommissionAmount.Equal(decimal.NewFromInt(20)))

	affiliate := s.walletId(t, models.PartyAffiliate, "aff-1")
	w = s.do(t, http.MethodGet, "/api/v1/wallets/"+affiliate, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Wallet](t, w).Balance.Equal(decimal.NewFromInt(20)))

	w = s.do(t, http.MethodGet, "/api/v1/wallets/"+affiliate+"/entries?limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[struct {
		Entries []models.LedgerEntry `json:"entries"`
	}](t, w)
	assert.Len(t, entries.Entries, 1)

	w = s.do(t, http.MethodGet, "/api/v1/wallets/"+affiliate+"/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.WalletAudit](t, w).Consistent)

	w = s.do(t, http.MethodGet, "/api/v1/wallets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	wallets := decode[struct {
		Wallets []models.Wallet `json:"wallets"`
	}](t, w)
	assert.Len(t, wallets.Wallets, 4)

	status := decode[models.RunStatus](t, s.do(t, http.MethodGet, "/api/v1/reconcile/status", nil))
	require.NotNil(t, status.Cursor)
	assert.True(t, status.Cursor.Completed)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/api/v1/wallets/missing",
		"/api/v1/transactions/missing",
		"/api/v1/sources/legacy/transactions/o-404",
		"/api/v1/payouts/missing",
	} {
		w := s.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestPayoutLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.importAll(t)
	affiliate := s.walletId(t, models.PartyAffiliate, "aff-1")

	w := s.do(t, http.MethodPost, "/api/v1/payouts", models.PayoutRequest{WalletId: affiliate, Amount: "15.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode[models.Payout](t, w)
	assert.Equal(t, models.PayoutPending, p.State)

	for _, step := range []struct {
		action string
		state  models.PayoutState
	}{
		{"approve", models.PayoutApproved},
		{"process", models.PayoutProcessing},
		{"complete", models.PayoutCompleted},
	} {
		w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/payouts/%s/%s", p.Id, step.action), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, step.state, decode[models.Payout](t, w).State)
	}

	w = s.do(t, http.MethodPost, "/api/v1/payouts/"+p.Id+"/reject", models.RejectPayoutRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	wallet := decode[models.Wallet](t, s.do(t, http.MethodGet, "/api/v1/wallets/"+affiliate, nil))
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(5)), wallet.Balance.String())

	w = s.do(t, http.MethodGet, "/api/v1/wallets/"+affiliate+"/payouts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), p.Id)
}

func TestPayoutRequestErrors(t *testing.T) {
	s := newTestServer(t)
	s.importAll(t)
	affiliate := s.walletId(t, models.PartyAffiliate, "aff-1")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"missing fields", map[string]string{"wallet_id": affiliate}, http.StatusBadRequest},
		{"malformed amount", models.PayoutRequest{WalletId: affiliate, Amount: "ten"}, http.StatusBadRequest},
		{"negative amount", models.PayoutRequest{WalletId: affiliate, Amount: "-1"}, http.StatusBadRequest},
		{"unknown wallet", models.PayoutRequest{WalletId: "missing", Amount: "1"}, http.StatusNotFound},
		{"insufficient funds", models.PayoutRequest{WalletId: affiliate, Amount: "20.01"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/payouts", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.importAll(t)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "revshare_reconcile_records_total"))
}
