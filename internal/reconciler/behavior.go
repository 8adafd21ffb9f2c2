package reconciler

import (
	"context"

	"onesmart/inventory/internal/cache"
	"onesmart/inventory/internal/domain"
)

// PurchaseBehavior re-bases pending sales and returns whenever the purchases
// cache takes over server state.
func (r *Reconciler) PurchaseBehavior() cache.Behavior[*domain.PurchaseBatch] {
	return cache.Behavior[*domain.PurchaseBatch]{
		Replace: r.Rebase,
	}
}

// BillBehavior depletes stock for every stored bill, online or offline, and
// orders bill reads newest first.
func (r *Reconciler) BillBehavior() cache.Behavior[*domain.Bill] {
	return cache.Behavior[*domain.Bill]{
		AfterCreate: func(ctx context.Context, bill *domain.Bill) error {
			_, err := r.ApplyBill(ctx, bill.ID, bill.Items)
			return err
		},
		Compare: cache.NewestFirst[*domain.Bill],
	}
}

// ReturnBehavior validates returns before they are stored and then takes the
// units out of the referenced batch. Offline, the batch must be known locally.
// Each create holds the reconciler lock from the check to the decrement, so
// concurrent returns cannot both pass against the same remaining stock.
func (r *Reconciler) ReturnBehavior() cache.Behavior[*domain.Return] {
	return cache.Behavior[*domain.Return]{
		Serialize: func(ctx context.Context, create func(context.Context) error) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			return create(ctx)
		},
		BeforeCreate: func(ctx context.Context, ret *domain.Return, online bool) error {
			return r.CheckReturn(ctx, ret.PurchaseID, ret.ReturnedQty, !online)
		},
		AfterCreate: func(ctx context.Context, ret *domain.Return) error {
			return r.applyReturn(ctx, ret.PurchaseID, ret.ReturnedQty)
		},
		Remap: func(ret *domain.Return, ids map[string]string) {
			if id, ok := ids[ret.PurchaseID]; ok {
				ret.PurchaseID = id
			}
		},
	}
}
