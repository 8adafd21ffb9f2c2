// Package inventory holds the stock rules shared by the offline client and the
// server, so a bill depletes the same batches no matter where it is applied.
package inventory

import (
	"fmt"
	"slices"
	"strings"

	"onesmart/inventory/internal/domain"
)

// Demand is the quantity of one product a bill asks for.
type Demand struct {
	ProductName string
	Quantity    int
}

// Demands groups bill lines by product, keeping first-seen order.
func Demands(items []domain.BillItem) []Demand {
	out := make([]Demand, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			continue
		}
		if i, ok := index[item.ProductName]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductName] = len(out)
		out = append(out, Demand{ProductName: item.ProductName, Quantity: item.Quantity})
	}
	return out
}

// SortFIFO orders batches oldest purchase first. Ties fall back to creation
// time and then id so every caller picks the same batch.
func SortFIFO(batches []*domain.PurchaseBatch) {
	slices.SortStableFunc(batches, compareFIFO)
}

func compareFIFO(a *domain.PurchaseBatch, b *domain.PurchaseBatch) int {
	if c := a.PurchaseDate.Compare(b.PurchaseDate); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Deplete removes qty units of productName from batches, oldest first, and
// returns the batches it changed plus the quantity it could not cover.
// Batches are modified in place.
func Deplete(batches []*domain.PurchaseBatch, productName string, qty int) ([]*domain.PurchaseBatch, int) {
	candidates := make([]*domain.PurchaseBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.ProductName == productName && batch.RemainingQty > 0 {
			candidates = append(candidates, batch)
		}
	}
	SortFIFO(candidates)

	need := qty
	touched := make([]*domain.PurchaseBatch, 0, len(candidates))
	for _, batch := range candidates {
		if need <= 0 {
			break
		}
		deduct := min(batch.RemainingQty, need)
		batch.RemainingQty -= deduct
		need -= deduct
		touched = append(touched, batch)
	}
	return touched, need
}

// ApplyBill depletes stock for every line of a bill. It never fails: missing
// stock is reported as warnings so an offline sale is not blocked.
func ApplyBill(batches []*domain.PurchaseBatch, items []domain.BillItem) ([]*domain.PurchaseBatch, []domain.InsufficientStockWarning) {
	var (
		touched  []*domain.PurchaseBatch
		warnings []domain.InsufficientStockWarning
		seen     = make(map[*domain.PurchaseBatch]bool)
	)
	for _, demand := range Demands(items) {
		changed, shortfall := Deplete(batches, demand.ProductName, demand.Quantity)
		for _, batch := range changed {
			if !seen[batch] {
				seen[batch] = true
				touched = append(touched, batch)
			}
		}
		if shortfall > 0 {
			warnings = append(warnings, domain.InsufficientStockWarning{
				ProductName: demand.ProductName,
				Shortfall:   shortfall,
			})
		}
	}
	return touched, warnings
}

// CheckReturn validates a return against the batch it references.
func CheckReturn(batch *domain.PurchaseBatch, returnedQty int) error {
	if returnedQty < 1 {
		return &domain.ValidationError{Field: "returnedQty", Message: "returned quantity must be positive"}
	}
	if returnedQty > batch.RemainingQty {
		return &domain.ValidationError{
			Field:   "returnedQty",
			Message: fmt.Sprintf("cannot return %d units, only %d remain in batch %s", returnedQty, batch.RemainingQty, batch.ID),
		}
	}
	return nil
}

// ApplyReturn takes returned units out of circulation. The batch is left
// untouched when the return is invalid.
func ApplyReturn(batch *domain.PurchaseBatch, returnedQty int) error {
	if err := CheckReturn(batch, returnedQty); err != nil {
		return err
	}
	batch.RemainingQty -= returnedQty
	return nil
}
