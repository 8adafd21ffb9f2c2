// Package reconciler keeps local purchase batches in step with the sales and
// returns recorded on this client, using the same FIFO rule as the server.
package reconciler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/inventory"
	"onesmart/inventory/internal/localstore"
)

// Batches is the purchases cache.
type Batches interface {
	Local(ctx context.Context) ([]*domain.PurchaseBatch, error)
	Update(ctx context.Context, fn func(batches []*domain.PurchaseBatch) ([]*domain.PurchaseBatch, error)) error
}

type PendingBills interface {
	Pending(ctx context.Context) ([]*domain.Bill, error)
}

type PendingReturns interface {
	Pending(ctx context.Context) ([]*domain.Return, error)
}

// Reconciler applies bill and return effects to local batches. One mutex
// covers each check-apply-record sequence, so a bill id is never applied twice
// even under concurrent calls.
type Reconciler struct {
	ledger *localstore.Ledger
	logger *zap.Logger

	batches Batches
	bills   PendingBills
	returns PendingReturns

	mu sync.Mutex
}

// New returns a reconciler that does nothing useful until Track hands it the
// caches; the caches in turn are built with its behaviors.
func New(ledger *localstore.Ledger, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{ledger: ledger, logger: logger}
}

func (r *Reconciler) Track(batches Batches, bills PendingBills, returns PendingReturns) {
	r.mu.Lock()
	r.batches = batches
	r.bills = bills
	r.returns = returns
	r.mu.Unlock()
}

// ApplyBill depletes stock for a bill once. A bill id found in the ledger is
// skipped without touching any batch. Shortages are logged and returned, never
// treated as failures.
func (r *Reconciler) ApplyBill(ctx context.Context, billID string, items []domain.BillItem) ([]domain.InsufficientStockWarning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done, err := r.ledger.Contains(ctx, billID)
	if err != nil {
		return nil, err
	}
	if done {
		r.logger.Debug("bill already applied", zap.String("bill_id", billID))
		return nil, nil
	}
	return r.applyBill(ctx, billID, items)
}

func (r *Reconciler) applyBill(ctx context.Context, billID string, items []domain.BillItem) ([]domain.InsufficientStockWarning, error) {
	var warnings []domain.InsufficientStockWarning
	err := r.batches.Update(ctx, func(batches []*domain.PurchaseBatch) ([]*domain.PurchaseBatch, error) {
		var touched []*domain.PurchaseBatch
		touched, warnings = inventory.ApplyBill(batches, items)
		return touched, nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply bill %s: %w", billID, err)
	}
	if err := r.ledger.Add(ctx, billID); err != nil {
		return nil, err
	}

	for _, w := range warnings {
		r.logger.Warn("insufficient stock",
			zap.String("bill_id", billID),
			zap.String("product", w.ProductName),
			zap.Int("shortfall", w.Shortfall),
		)
	}
	return warnings, nil
}

// CheckReturn validates a return against the local batch it references.
// A batch missing locally is an error only when requireBatch is set, which
// callers do when the server cannot validate the return itself.
func (r *Reconciler) CheckReturn(ctx context.Context, purchaseID string, returnedQty int, requireBatch bool) error {
	batches, err := r.batches.Local(ctx)
	if err != nil {
		return err
	}
	batch := find(batches, purchaseID)
	if batch == nil {
		if requireBatch {
			return &domain.ValidationError{Field: "purchaseId", Message: fmt.Sprintf("purchase batch %s not found", purchaseID)}
		}
		return nil
	}
	return inventory.CheckReturn(batch, returnedQty)
}

// applyReturn removes returned units from the referenced batch. The batch is
// left unmodified when the quantity exceeds what remains. Callers hold r.mu.
func (r *Reconciler) applyReturn(ctx context.Context, purchaseID string, returnedQty int) error {
	return r.batches.Update(ctx, func(batches []*domain.PurchaseBatch) ([]*domain.PurchaseBatch, error) {
		batch := find(batches, purchaseID)
		if batch == nil {
			r.logger.Warn("return references unknown batch", zap.String("purchase_id", purchaseID))
			return nil, nil
		}
		if err := inventory.ApplyReturn(batch, returnedQty); err != nil {
			return nil, err
		}
		return []*domain.PurchaseBatch{batch}, nil
	})
}

// Rebase runs replace, which swaps the local batches for the server's, and
// then re-applies every still-pending bill and return, since the server has
// not seen them yet. Pending local batches survive replace with those effects
// already taken out, so they are restored to their purchased quantity first.
// Effects are re-applied in creation order, bills regardless of the ledger.
func (r *Reconciler) Rebase(ctx context.Context, replace func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := replace(ctx); err != nil {
		return err
	}
	if err := r.restorePending(ctx); err != nil {
		return err
	}
	effects, err := r.pendingEffects(ctx)
	if err != nil {
		return err
	}
	for _, e := range effects {
		if err := e.apply(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) restorePending(ctx context.Context) error {
	return r.batches.Update(ctx, func(batches []*domain.PurchaseBatch) ([]*domain.PurchaseBatch, error) {
		var restored []*domain.PurchaseBatch
		for _, batch := range batches {
			if batch.PendingSync && batch.RemainingQty != batch.Quantity {
				batch.RemainingQty = batch.Quantity
				restored = append(restored, batch)
			}
		}
		return restored, nil
	})
}

type effect struct {
	at    time.Time
	id    string
	apply func(ctx context.Context) error
}

// pendingEffects lists the stock effects of pending bills and returns, oldest
// first.
func (r *Reconciler) pendingEffects(ctx context.Context) ([]effect, error) {
	var effects []effect
	if r.bills != nil {
		bills, err := r.bills.Pending(ctx)
		if err != nil {
			return nil, err
		}
		for _, bill := range bills {
			effects = append(effects, effect{at: bill.CreatedAt, id: bill.ID, apply: func(ctx context.Context) error {
				_, err := r.applyBill(ctx, bill.ID, bill.Items)
				return err
			}})
		}
	}
	if r.returns != nil {
		returns, err := r.returns.Pending(ctx)
		if err != nil {
			return nil, err
		}
		for _, ret := range returns {
			effects = append(effects, effect{at: ret.CreatedAt, id: ret.ID, apply: func(ctx context.Context) error {
				if err := r.applyReturn(ctx, ret.PurchaseID, ret.ReturnedQty); err != nil {
					r.logger.Warn("pending return no longer fits its batch",
						zap.String("return_id", ret.ID),
						zap.String("purchase_id", ret.PurchaseID),
						zap.Error(err),
					)
				}
				return nil
			}})
		}
	}
	slices.SortStableFunc(effects, func(a, b effect) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return effects, nil
}

func find(batches []*domain.PurchaseBatch, id string) *domain.PurchaseBatch {
	for _, batch := range batches {
		if batch.ID == id {
			return batch
		}
	}
	return nil
}
