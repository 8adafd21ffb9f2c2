package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"onesmart/inventory/internal/domain"
)

// LedgerCollection stores the ids of bills whose stock effects were already
// applied locally. It lives next to the mirrored collections so it survives
// restarts, but it is not one of them and ClearAll leaves it alone.
const LedgerCollection domain.Collection = "processed_bills"

// Ledger is the processed-bill set used to keep FIFO reconciliation idempotent.
// Each entry holds the time the bill was applied.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger returns a ledger over store. A nil now uses time.Now.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

func (l *Ledger) Contains(ctx context.Context, billID string) (bool, error) {
	_, err := l.store.Get(ctx, LedgerCollection, billID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("read processed bill %s: %w", billID, err)
	}
	return true, nil
}

func (l *Ledger) Add(ctx context.Context, billID string) error {
	stamp, err := json.Marshal(l.now().UTC())
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, LedgerCollection, Document{ID: billID, Data: stamp}); err != nil {
		return fmt.Errorf("record processed bill %s: %w", billID, err)
	}
	return nil
}

func (l *Ledger) IDs(ctx context.Context) ([]string, error) {
	docs, err := l.store.GetAll(ctx, LedgerCollection)
	if err != nil {
		return nil, fmt.Errorf("read processed bills: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func (l *Ledger) Clear(ctx context.Context) error {
	return l.store.Clear(ctx, LedgerCollection)
}
