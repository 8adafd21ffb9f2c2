package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onesmart/inventory/internal/domain"
)

func TestObservePassCountsOutcomes(t *testing.T) {
	m := New()
	start := time.Now()

	m.ObservePass(domain.SyncReport{Synced: false, Reason: "offline"})
	m.ObservePass(domain.SyncReport{
		Synced:     true,
		Results:    domain.SyncResults{Bills: 3, Failed: 1},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.records.WithLabelValues("bills", "synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("all", "failed")))
}

func TestNilSyncIsSafe(t *testing.T) {
	var m *Sync
	m.ObservePass(domain.SyncReport{Synced: true})
	m.SetPending(domain.CollectionBills, 2)
	m.SetOnline(true)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.SetPending(domain.CollectionBills, 2)
	m.SetOnline(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `onesmart_pending_records{collection="bills"} 2`)
	assert.Contains(t, rec.Body.String(), "onesmart_online 1")
}
