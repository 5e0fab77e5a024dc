package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacore/ledger-engine/api"
	"github.com/pharmacore/ledger-engine/cash"
	"github.com/pharmacore/ledger-engine/ledger"
	ledgerstore "github.com/pharmacore/ledger-engine/ledger/store"
	"github.com/pharmacore/ledger-engine/stock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestRouter() http.Handler {
	mem := ledgerstore.NewMemory()
	locks := ledger.NewKeyLocks(time.Second)

	stockSvc := stock.NewService(
		ledger.NewLedger(mem),
		ledger.NewProjector(mem),
		ledger.NewGuard(mem),
		stock.NewMemoryCatalog(),
		locks,
	)
	cashSvc := cash.NewService(cash.NewMemoryStore(), locks, cash.ServiceConfig{
		OpeningBalances: map[string]decimal.Decimal{
			"ACC-1": decimal.NewFromInt(100000),
		},
	})

	return api.NewRouter(api.NewHandler(stockSvc, cashSvc))
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

func receiptBody(invoice string, quantity int64) map[string]any {
	return map[string]any{
		"invoice_number": invoice,
		"invoice_date":   "2026-03-01",
		"supplier_name":  "MediSupply Pvt Ltd",
		"lines": []map[string]any{{
			"medicine_name": "Paracetamol 500mg",
			"batch_number":  "PC1023",
			"quantity":      quantity,
			"unit_cost":     "2.50",
			"expiry_date":   "2027-12-31",
			"reorder_level": 20,
		}},
	}
}

func saleBody(receipt string, quantity int64) map[string]any {
	return map[string]any{
		"receipt_number": receipt,
		"sale_date":      "2026-03-02",
		"payment_mode":   "upi",
		"lines": []map[string]any{{
			"medicine_name": "Paracetamol 500mg",
			"batch_number":  "PC1023",
			"quantity":      quantity,
			"unit_price":    "5",
		}},
	}
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

func TestStockFlow_ReceiveSellQuantity(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodPost, "/api/stock/receipts", receiptBody("INV-1", 100))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-1", 30))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/stock/quantity?medicine=Paracetamol+500mg&batch=PC1023", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var qty struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	decode(t, rec, &qty)
	assert.True(t, qty.Quantity.Equal(decimal.NewFromInt(70)))
}

func TestStockFlow_OversellReturns422(t *testing.T) {
	router := newTestRouter()

	do(t, router, http.MethodPost, "/api/stock/receipts", receiptBody("INV-1", 100))
	do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-1", 30))

	rec := do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-2", 80))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	// Quantity unchanged by the rejected sale.
	rec = do(t, router, http.MethodGet, "/api/stock/quantity?medicine=Paracetamol+500mg&batch=PC1023", nil)
	var qty struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	decode(t, rec, &qty)
	assert.True(t, qty.Quantity.Equal(decimal.NewFromInt(70)))
}

func TestStockFlow_ResubmittedSaleIsNoOp(t *testing.T) {
	router := newTestRouter()

	do(t, router, http.MethodPost, "/api/stock/receipts", receiptBody("INV-1", 100))
	do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-1", 30))

	rec := do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-1", 30))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp api.SellResponse
	decode(t, rec, &resp)
	assert.True(t, resp.AlreadyApplied)
}

func TestStock_Validation(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodPost, "/api/stock/receipts", map[string]any{"lines": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/stock/quantity?medicine=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-1", 1))
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown batch")
}

func TestStock_ReorderQueue(t *testing.T) {
	router := newTestRouter()

	do(t, router, http.MethodPost, "/api/stock/receipts", receiptBody("INV-1", 40))
	do(t, router, http.MethodPost, "/api/stock/sales", saleBody("R-1", 25))

	rec := do(t, router, http.MethodGet, "/api/stock/reorder", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var candidates []api.PositionDTO
	decode(t, rec, &candidates)
	require.Len(t, candidates, 1)
	assert.Equal(t, "PC1023", candidates[0].BatchNumber)
}

// =============================================================================
// CASH ENDPOINTS
// =============================================================================

func TestCashFlow_ImportBalanceApprove(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodPost, "/api/cash/accounts/ACC-1/entries", map[string]any{
		"tran_id":     "T1",
		"occurred_at": "2026-04-01",
		"direction":   "CR",
		"amount":      "5000",
		"description": "NEFT from clinic",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var entry api.CashEntryDTO
	decode(t, rec, &entry)
	assert.True(t, entry.RunningBalance.Equal(decimal.NewFromInt(105000)))

	rec = do(t, router, http.MethodGet, "/api/cash/accounts/ACC-1/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance api.AccountBalanceDTO
	decode(t, rec, &balance)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(105000)))

	rec = do(t, router, http.MethodPost, "/api/cash/entries/"+entry.ID+"/approve", map[string]any{
		"approved_by": "asha",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Second approval conflicts.
	rec = do(t, router, http.MethodPost, "/api/cash/entries/"+entry.ID+"/approve", map[string]any{
		"approved_by": "vikram",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/cash/unreconciled?account=ACC-1", nil)
	var queue []api.CashEntryDTO
	decode(t, rec, &queue)
	assert.Empty(t, queue)
}

func TestCashFlow_DuplicateTranIDConflicts(t *testing.T) {
	router := newTestRouter()
	body := map[string]any{
		"tran_id":     "T1",
		"occurred_at": "2026-04-01",
		"direction":   "CR",
		"amount":      "5000",
	}

	rec := do(t, router, http.MethodPost, "/api/cash/accounts/ACC-1/entries", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/cash/accounts/ACC-1/entries", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCashFlow_BalanceMismatchReturns422(t *testing.T) {
	router := newTestRouter()

	rec := do(t, router, http.MethodPost, "/api/cash/accounts/ACC-1/entries", map[string]any{
		"tran_id":          "T1",
		"occurred_at":      "2026-04-01",
		"direction":        "CR",
		"amount":           "5000",
		"declared_balance": "110000",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	// The flagged entry sits in the review queue.
	rec = do(t, router, http.MethodGet, "/api/cash/unreconciled?account=ACC-1", nil)
	var queue []api.CashEntryDTO
	decode(t, rec, &queue)
	require.Len(t, queue, 1)
	assert.Equal(t, "flagged", queue[0].Status)
}

func TestCashFlow_StatementBatch(t *testing.T) {
	router := newTestRouter()

	lines := []map[string]any{
		{"tran_id": "T1", "occurred_at": "2026-04-01", "direction": "CR", "amount": "100"},
		{"tran_id": "T1", "occurred_at": "2026-04-01", "direction": "CR", "amount": "100"},
		{"tran_id": "T2", "occurred_at": "2026-04-02", "direction": "DR", "amount": "40"},
	}
	rec := do(t, router, http.MethodPost, "/api/cash/accounts/ACC-1/statements", map[string]any{"lines": lines})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp api.ImportStatementResponse
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Imported)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 0, resp.Failed)
}

func TestHealth(t *testing.T) {
	router := newTestRouter()
	rec := do(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
