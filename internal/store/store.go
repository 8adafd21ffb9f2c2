// Package store is the reference server's persistence contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/inventory"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrDuplicate         = errors.New("duplicate record")
)

// Repository stores the four server collections. Create methods receive
// validated drafts, assign ids and timestamps, and return the stored record.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListPurchases(ctx context.Context) ([]domain.PurchaseBatch, error)
	// ListExpiringPurchases returns batches with stock left that expire in [from, to].
	ListExpiringPurchases(ctx context.Context, from time.Time, to time.Time) ([]domain.PurchaseBatch, error)
	CreatePurchase(ctx context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error)

	ListBills(ctx context.Context) ([]domain.Bill, error)
	// CreateBill depletes stock FIFO and stores the bill in one unit. A bill
	// that cannot be covered fails with ErrInsufficientStock and changes nothing.
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)

	ListReturns(ctx context.Context) ([]domain.Return, error)
	// CreateReturn takes the returned units out of the referenced batch.
	CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)

	Ping(ctx context.Context) error
	Close() error
}

// Shortage turns FIFO warnings into the error a strict server returns.
func Shortage(warnings []domain.InsufficientStockWarning) error {
	if len(warnings) == 0 {
		return nil
	}
	w := warnings[0]
	return fmt.Errorf("%w: %s short by %d", ErrInsufficientStock, w.ProductName, w.Shortfall)
}

// CheckReturn maps a rejected return onto ErrInvalidRecord.
func CheckReturn(batch *domain.PurchaseBatch, returnedQty int) error {
	if err := inventory.CheckReturn(batch, returnedQty); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
