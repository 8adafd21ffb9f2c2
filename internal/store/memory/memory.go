package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/inventory"
	"onesmart/inventory/internal/store"
	"onesmart/inventory/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	purchases map[string]domain.PurchaseBatch
	bills     map[string]domain.Bill
	returns   map[string]domain.Return
	now       func() time.Time
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		purchases: make(map[string]domain.PurchaseBatch),
		bills:     make(map[string]domain.Bill),
		returns:   make(map[string]domain.Return),
		now:       time.Now,
	}
}

// NewSeeded returns a store with a small demo catalog for dev mode.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	expiry := now.AddDate(0, 0, 20)

	for _, name := range []string{"Green Tea 250g", "Basmati Rice 5kg"} {
		_, _ = s.CreateProduct(ctx, domain.Product{Name: name})
	}
	for i, batch := range []domain.PurchaseBatch{
		{ProductName: "Green Tea 250g", Quantity: 40, PurchasePrice: decimal.NewFromInt(90), MRP: decimal.NewFromInt(120), ExpiryDate: &expiry},
		{ProductName: "Green Tea 250g", Quantity: 60, PurchasePrice: decimal.NewFromInt(92), MRP: decimal.NewFromInt(120)},
		{ProductName: "Basmati Rice 5kg", Quantity: 25, PurchasePrice: decimal.NewFromInt(480), MRP: decimal.NewFromInt(599)},
	} {
		batch.PurchaseDate = now.AddDate(0, 0, -30+i)
		batch.RemainingQty = batch.Quantity
		_, _ = s.CreatePurchase(ctx, batch)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.products), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if strings.EqualFold(existing.Name, product.Name) {
			return nil, fmt.Errorf("%w: product %q", store.ErrDuplicate, product.Name)
		}
	}
	product.Meta = s.meta("prd")
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) ListPurchases(_ context.Context) ([]domain.PurchaseBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.purchases), nil
}

func (s *Store) ListExpiringPurchases(_ context.Context, from time.Time, to time.Time) ([]domain.PurchaseBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PurchaseBatch, 0)
	for _, batch := range sorted(s.purchases) {
		if batch.RemainingQty > 0 && batch.ExpiresWithin(from, to) {
			out = append(out, batch)
		}
	}
	slices.SortFunc(out, func(a, b domain.PurchaseBatch) int {
		return a.ExpiryDate.Compare(*b.ExpiryDate)
	})
	return out, nil
}

func (s *Store) CreatePurchase(_ context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error) {
	if batch.ProductName == "" || batch.Quantity < 1 {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch.Meta = s.meta("pur")
	batch.RemainingQty = batch.Quantity
	s.purchases[batch.ID] = batch
	return &batch, nil
}

func (s *Store) ListBills(_ context.Context) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bills := sorted(s.bills)
	slices.Reverse(bills)
	return bills, nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNo == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bills {
		if existing.BillNo == bill.BillNo {
			return nil, fmt.Errorf("%w: bill %s", store.ErrDuplicate, bill.BillNo)
		}
	}

	// Deplete copies so a rejected bill leaves every batch as it was.
	batches := make([]*domain.PurchaseBatch, 0, len(s.purchases))
	for _, batch := range s.purchases {
		dup := batch
		batches = append(batches, &dup)
	}
	touched, warnings := inventory.ApplyBill(batches, bill.Items)
	if err := store.Shortage(warnings); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for _, batch := range touched {
		batch.UpdatedAt = now
		s.purchases[batch.ID] = *batch
	}
	bill.Meta = s.meta("bil")
	s.bills[bill.ID] = bill
	return &bill, nil
}

func (s *Store) ListReturns(_ context.Context) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.returns), nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.purchases[ret.PurchaseID]
	if !ok {
		return nil, fmt.Errorf("%w: purchase %s", store.ErrNotFound, ret.PurchaseID)
	}
	if err := store.CheckReturn(&batch, ret.ReturnedQty); err != nil {
		return nil, err
	}

	ret.Meta = s.meta("ret")
	batch.RemainingQty -= ret.ReturnedQty
	batch.UpdatedAt = ret.CreatedAt
	s.purchases[batch.ID] = batch
	s.returns[ret.ID] = ret
	return &ret, nil
}

func (s *Store) meta(prefix string) domain.Meta {
	now := s.now().UTC()
	return domain.Meta{ID: xid.New(prefix), CreatedAt: now, UpdatedAt: now}
}

// sorted returns the map's records oldest first.
func sorted[T any, P interface {
	*T
	domain.Record
}](records map[string]T) []T {
	out := make([]T, 0, len(records))
	for _, record := range records {
		out = append(out, record)
	}
	slices.SortFunc(out, func(a, b T) int {
		ma, mb := P(&a).Metadata(), P(&b).Metadata()
		if c := ma.CreatedAt.Compare(mb.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(ma.ID, mb.ID)
	})
	return out
}
