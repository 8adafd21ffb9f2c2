package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onesmart/inventory/internal/connectivity"
	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/gateway"
	localmemory "onesmart/inventory/internal/localstore/memory"
	"onesmart/inventory/internal/metrics"
	"onesmart/inventory/internal/server"
	"onesmart/inventory/internal/service"
	"onesmart/inventory/internal/store/memory"
)

// newTestAPI builds the UI API over a real service talking to an in-memory
// reference server, so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (http.Handler, *connectivity.Monitor) {
	t.Helper()

	srv := httptest.NewServer(server.New(server.Options{Repository: memory.New()}).Handler())
	t.Cleanup(srv.Close)

	gw := gateway.New(gateway.Config{BaseURL: srv.URL + "/api", Timeout: 5 * time.Second}, nil)
	monitor := connectivity.New(gw, "@every 1h", time.Second, nil)
	monitor.Set(true)

	m := metrics.New()
	svc := service.New(service.Deps{
		Store:        localmemory.New(),
		Remote:       gw,
		Connectivity: monitor,
		Metrics:      m,
	})
	return New(svc, m.Handler(), "*", nil).Handler(), monitor
}

func do(t *testing.T, h http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := do(t, h, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["online"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateAndListOnline(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/api/v1/products", `{"name":"Tea"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var product domain.Product
	decodeBody(t, rec, &product)
	assert.NotEmpty(t, product.ID)
	assert.False(t, product.PendingSync)

	rec = do(t, h, http.MethodGet, "/api/v1/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []domain.Product
	decodeBody(t, rec, &products)
	require.Len(t, products, 1)
	assert.Equal(t, product.ID, products[0].ID)
}

func TestCreateErrors(t *testing.T) {
	h, _ := newTestAPI(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/products", `{"name":"Tea"}`).Code)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"invalid json", "/api/v1/products", `{`, http.StatusBadRequest},
		{"validation", "/api/v1/bills", `{"billNo":"B-1","items":[]}`, http.StatusBadRequest},
		{"duplicate on server", "/api/v1/products", `{"name":"Tea"}`, http.StatusConflict},
		{"unknown route", "/api/v1/invoices", `{}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestOfflineSaleThenManualSync(t *testing.T) {
	h, monitor := newTestAPI(t)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/purchases",
		`{"productName":"Tea","purchaseDate":"2024-01-01T00:00:00Z","quantity":5}`).Code)

	monitor.Set(false)
	rec := do(t, h, http.MethodPost, "/api/v1/bills", `{"billNo":"B-1","items":[{"productName":"Tea","quantity":2,"pricePerUnit":50}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bill domain.Bill
	decodeBody(t, rec, &bill)
	assert.True(t, bill.PendingSync)

	rec = do(t, h, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status domain.Status
	decodeBody(t, rec, &status)
	assert.False(t, status.Online)
	assert.Equal(t, 1, status.Pending[domain.CollectionBills])

	monitor.Set(true)
	rec = do(t, h, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Report  domain.SyncReport `json:"report"`
		Summary string            `json:"summary"`
	}
	decodeBody(t, rec, &result)
	assert.Equal(t, 1, result.Report.Results.Bills)
	assert.Equal(t, "1 of 1 pending records synced", result.Summary)

	rec = do(t, h, http.MethodGet, "/api/v1/purchases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var purchases []domain.PurchaseBatch
	decodeBody(t, rec, &purchases)
	require.Len(t, purchases, 1)
	assert.Equal(t, 3, purchases[0].RemainingQty)
}

func TestLocalDataEndpoints(t *testing.T) {
	h, monitor := newTestAPI(t)
	monitor.Set(false)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/products", `{"name":"Tea"}`).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/local-data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot map[string][]json.RawMessage
	decodeBody(t, rec, &snapshot)
	assert.Len(t, snapshot["products"], 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/api/v1/local-data/invoices", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/v1/local-data/products", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/v1/local-data", "").Code)

	rec = do(t, h, http.MethodGet, "/api/v1/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRefreshAndExpiring(t *testing.T) {
	h, monitor := newTestAPI(t)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/refresh", "").Code)
	rec := do(t, h, http.MethodGet, "/api/v1/purchases/expiring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	monitor.Set(false)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/v1/refresh", "").Code)
}

func TestMetricsMounted(t *testing.T) {
	h, _ := newTestAPI(t)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/sync/status", "").Code)
	rec := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "onesmart_online 1")
	assert.Contains(t, rec.Body.String(), `onesmart_pending_records{collection="bills"} 0`)
}
