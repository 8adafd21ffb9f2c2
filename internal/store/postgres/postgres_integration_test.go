package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/store"
)

func TestBillDepletesOldestBatchFirst(t *testing.T) {
	databaseURL := os.Getenv("ONESMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set ONESMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	name := fmt.Sprintf("Tea IT %d", stamp)
	billNo := fmt.Sprintf("B-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE bill_no = $1`, billNo)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE purchase_id IN (SELECT id FROM purchases WHERE product_name = $1)`, name)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchases WHERE product_name = $1`, name)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE name = $1`, name)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{Name: name}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{Name: name}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate product error, got %v", err)
	}

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older, err := s.CreatePurchase(ctx, domain.PurchaseBatch{ProductName: name, PurchaseDate: day, Quantity: 3, PurchasePrice: decimal.NewFromInt(90)})
	if err != nil {
		t.Fatalf("create older purchase: %v", err)
	}
	newer, err := s.CreatePurchase(ctx, domain.PurchaseBatch{ProductName: name, PurchaseDate: day.AddDate(0, 0, 7), Quantity: 10, PurchasePrice: decimal.NewFromInt(95)})
	if err != nil {
		t.Fatalf("create newer purchase: %v", err)
	}

	bill := domain.Bill{
		BillNo:        billNo,
		Items:         []domain.BillItem{{ProductName: name, Quantity: 4, PricePerUnit: decimal.NewFromInt(120)}},
		PaymentMethod: domain.PaymentCash,
	}
	if err := bill.Validate(); err != nil {
		t.Fatalf("validate bill: %v", err)
	}
	if _, err := s.CreateBill(ctx, bill); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	remaining := map[string]int{}
	batches, err := s.ListPurchases(ctx)
	if err != nil {
		t.Fatalf("list purchases: %v", err)
	}
	for _, b := range batches {
		remaining[b.ID] = b.RemainingQty
	}
	if remaining[older.ID] != 0 || remaining[newer.ID] != 9 {
		t.Fatalf("expected remaining 0/9, got %d/%d", remaining[older.ID], remaining[newer.ID])
	}

	if _, err := s.CreateReturn(ctx, domain.Return{PurchaseID: newer.ID, ReturnedQty: 10}); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected oversized return to fail, got %v", err)
	}
	if _, err := s.CreateReturn(ctx, domain.Return{PurchaseID: newer.ID, ReturnedQty: 2, ReturnDate: day}); err != nil {
		t.Fatalf("create return: %v", err)
	}
}
