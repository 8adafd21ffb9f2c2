package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onesmart/inventory/internal/cache"
	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
	"onesmart/inventory/internal/localstore/memory"
	"onesmart/inventory/internal/xid"
)

type offline struct{}

func (offline) Online() bool { return false }
func (offline) Set(bool)     {}

type stubRemote struct {
	purchases []string
}

func (s *stubRemote) FetchAll(_ context.Context, c domain.Collection) ([]json.RawMessage, error) {
	if c != domain.CollectionPurchases {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(s.purchases))
	for _, p := range s.purchases {
		out = append(out, json.RawMessage(p))
	}
	return out, nil
}

func (s *stubRemote) Create(context.Context, domain.Collection, any) (json.RawMessage, error) {
	return nil, &domain.NetworkError{Op: "POST", Err: fmt.Errorf("offline")}
}

type harness struct {
	store     *memory.Store
	ledger    *localstore.Ledger
	rec       *Reconciler
	purchases *cache.Cache[domain.PurchaseBatch, *domain.PurchaseBatch]
	bills     *cache.Cache[domain.Bill, *domain.Bill]
	returns   *cache.Cache[domain.Return, *domain.Return]
	remote    *stubRemote
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memory.New(), remote: &stubRemote{}}
	deps := cache.Deps{Store: h.store, Remote: h.remote, Connectivity: offline{}, Locks: localstore.NewLocks()}
	h.ledger = localstore.NewLedger(h.store, nil)

	h.rec = New(h.ledger, nil)
	h.purchases = cache.New[domain.PurchaseBatch](deps, h.rec.PurchaseBehavior())
	h.bills = cache.New[domain.Bill](deps, h.rec.BillBehavior())
	h.returns = cache.New[domain.Return](deps, h.rec.ReturnBehavior())
	h.rec.Track(h.purchases, h.bills, h.returns)
	return h
}

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func (h *harness) batch(t *testing.T, id string, product string, purchased time.Time, remaining int) {
	t.Helper()
	b := &domain.PurchaseBatch{
		Meta:         domain.Meta{ID: id},
		ProductName:  product,
		PurchaseDate: purchased,
		Quantity:     remaining,
		RemainingQty: remaining,
	}
	require.NoError(t, h.purchases.Put(context.Background(), b))
}

func (h *harness) remaining(t *testing.T) map[string]int {
	t.Helper()
	batches, err := h.purchases.Local(context.Background())
	require.NoError(t, err)
	out := make(map[string]int, len(batches))
	for _, b := range batches {
		out[b.ID] = b.RemainingQty
	}
	return out
}

func items(product string, qty ...int) []domain.BillItem {
	out := make([]domain.BillItem, 0, len(qty))
	for _, q := range qty {
		out = append(out, domain.BillItem{ProductName: product, Quantity: q, PricePerUnit: decimal.NewFromInt(10)})
	}
	return out
}

func TestApplyBillIsIdempotentPerBillID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.batch(t, "p1", "Tea", day(1), 10)

	_, err := h.rec.ApplyBill(ctx, "bill-1", items("Tea", 4))
	require.NoError(t, err)
	_, err = h.rec.ApplyBill(ctx, "bill-1", items("Tea", 4))
	require.NoError(t, err)

	assert.Equal(t, 6, h.remaining(t)["p1"])
	done, err := h.ledger.Contains(ctx, "bill-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestApplyBillConcurrentDuplicatesApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "p1", "Tea", day(1), 10)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.rec.ApplyBill(context.Background(), "bill-1", items("Tea", 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, h.remaining(t)["p1"])
}

func TestApplyBillDepletesOldestBatchFirst(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "b", "Tea", day(2), 5)
	h.batch(t, "a", "Tea", day(1), 5)

	warnings, err := h.rec.ApplyBill(context.Background(), "bill-1", items("Tea", 7))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, map[string]int{"a": 0, "b": 3}, h.remaining(t))
}

func TestApplyBillReportsShortageWithoutFailing(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "a", "Tea", day(1), 2)

	warnings, err := h.rec.ApplyBill(context.Background(), "bill-1", items("Tea", 5))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.InsufficientStockWarning{ProductName: "Tea", Shortfall: 3}, warnings[0])
	assert.Equal(t, 0, h.remaining(t)["a"])
}

func TestOfflineBillRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "a", "Tea", day(1), 5)
	h.batch(t, "b", "Tea", day(2), 5)

	bill, err := h.bills.Create(context.Background(), &domain.Bill{BillNo: "B-100", Items: items("Tea", 3, 4)})
	require.NoError(t, err)
	assert.True(t, bill.PendingSync)
	assert.True(t, xid.IsLocal(bill.ID))
	assert.Equal(t, decimal.NewFromInt(70).String(), bill.TotalAmount.String())

	assert.Equal(t, map[string]int{"a": 0, "b": 3}, h.remaining(t))
	done, err := h.ledger.Contains(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestReturnExceedingRemainingIsRejected(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "a", "Tea", day(1), 5)

	_, err := h.returns.Create(context.Background(), &domain.Return{PurchaseID: "a", ReturnedQty: 6})
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, 5, h.remaining(t)["a"])

	stored, err := h.returns.Local(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReturnDecrementsBatch(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "a", "Tea", day(1), 5)

	ret, err := h.returns.Create(context.Background(), &domain.Return{PurchaseID: "a", ReturnedQty: 2})
	require.NoError(t, err)
	assert.True(t, ret.PendingSync)
	assert.Equal(t, 3, h.remaining(t)["a"])
}

func TestOfflineReturnNeedsKnownBatch(t *testing.T) {
	h := newHarness(t)

	err := h.rec.CheckReturn(context.Background(), "missing", 1, true)
	assert.True(t, domain.IsValidation(err))
	assert.NoError(t, h.rec.CheckReturn(context.Background(), "missing", 1, false))
}

func TestRebaseReappliesPendingEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.batch(t, "a", "Tea", day(1), 10)

	_, err := h.bills.Create(ctx, &domain.Bill{BillNo: "B-1", Items: items("Tea", 4)})
	require.NoError(t, err)
	_, err = h.returns.Create(ctx, &domain.Return{PurchaseID: "a", ReturnedQty: 1})
	require.NoError(t, err)
	require.Equal(t, 5, h.remaining(t)["a"])

	// The server has not seen either record and still reports the full batch.
	h.remote.purchases = []string{`{"_id":"a","productName":"Tea","purchaseDate":"2024-01-01T00:00:00Z","quantity":10,"remainingQty":10}`}
	require.NoError(t, h.purchases.Refresh(ctx))

	assert.Equal(t, 5, h.remaining(t)["a"])
}

func TestRefreshDoesNotDepletePendingBatchTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch, err := h.purchases.Create(ctx, &domain.PurchaseBatch{ProductName: "Tea", PurchaseDate: day(1), Quantity: 10})
	require.NoError(t, err)
	require.True(t, batch.PendingSync)
	_, err = h.bills.Create(ctx, &domain.Bill{BillNo: "B-1", Items: items("Tea", 4)})
	require.NoError(t, err)
	_, err = h.returns.Create(ctx, &domain.Return{PurchaseID: batch.ID, ReturnedQty: 1})
	require.NoError(t, err)
	require.Equal(t, 5, h.remaining(t)[batch.ID])

	// The server knows none of it; every refresh keeps the pending batch.
	for range 3 {
		require.NoError(t, h.purchases.Refresh(ctx))
		assert.Equal(t, 5, h.remaining(t)[batch.ID])
	}
}

func TestConcurrentReturnsCannotOverdrawBatch(t *testing.T) {
	h := newHarness(t)
	h.batch(t, "a", "Tea", day(1), 5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.returns.Create(context.Background(), &domain.Return{PurchaseID: "a", ReturnedQty: 3})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case domain.IsValidation(err):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 2, h.remaining(t)["a"])

	stored, err := h.returns.Local(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
