package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onesmart/inventory/internal/domain"
)

var day0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func batch(id string, product string, day int, remaining int) *domain.PurchaseBatch {
	return &domain.PurchaseBatch{
		Meta:         domain.Meta{ID: id},
		ProductName:  product,
		PurchaseDate: day0.AddDate(0, 0, day),
		Quantity:     remaining,
		RemainingQty: remaining,
	}
}

func TestDepleteConsumesOldestBatchFirst(t *testing.T) {
	a := batch("a", "Soap", 1, 5)
	b := batch("b", "Soap", 2, 5)

	// Newer batch listed first: order must come from purchase date.
	touched, shortfall := Deplete([]*domain.PurchaseBatch{b, a}, "Soap", 7)

	assert.Equal(t, 0, shortfall)
	assert.Equal(t, 0, a.RemainingQty)
	assert.Equal(t, 3, b.RemainingQty)
	require.Len(t, touched, 2)
	assert.Equal(t, "a", touched[0].ID)
}

func TestDepleteSkipsOtherProductsAndEmptyBatches(t *testing.T) {
	empty := batch("empty", "Soap", 0, 0)
	other := batch("other", "Shampoo", 0, 10)
	soap := batch("soap", "Soap", 3, 10)

	touched, shortfall := Deplete([]*domain.PurchaseBatch{empty, other, soap}, "Soap", 4)

	assert.Equal(t, 0, shortfall)
	assert.Equal(t, 10, other.RemainingQty)
	assert.Equal(t, 6, soap.RemainingQty)
	assert.Len(t, touched, 1)
}

func TestDepleteReportsShortfall(t *testing.T) {
	a := batch("a", "Soap", 1, 2)

	_, shortfall := Deplete([]*domain.PurchaseBatch{a}, "Soap", 5)

	assert.Equal(t, 3, shortfall)
	assert.Equal(t, 0, a.RemainingQty)
}

func TestSortFIFOBreaksTiesByCreationThenID(t *testing.T) {
	x := batch("x", "Soap", 1, 1)
	y := batch("y", "Soap", 1, 1)
	z := batch("z", "Soap", 1, 1)
	z.CreatedAt = day0
	x.CreatedAt = day0.Add(time.Hour)
	y.CreatedAt = day0.Add(time.Hour)

	list := []*domain.PurchaseBatch{y, x, z}
	SortFIFO(list)

	assert.Equal(t, []string{"z", "x", "y"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestApplyBillGroupsLinesAndWarns(t *testing.T) {
	soap := batch("soap", "Soap", 1, 5)
	tea := batch("tea", "Tea", 1, 1)

	touched, warnings := ApplyBill([]*domain.PurchaseBatch{soap, tea}, []domain.BillItem{
		{ProductName: "Soap", Quantity: 2},
		{ProductName: "Tea", Quantity: 3},
		{ProductName: "Soap", Quantity: 1},
	})

	assert.Equal(t, 2, soap.RemainingQty)
	assert.Equal(t, 0, tea.RemainingQty)
	assert.Len(t, touched, 2)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.InsufficientStockWarning{ProductName: "Tea", Shortfall: 2}, warnings[0])
}

func TestApplyReturnRejectsMoreThanRemaining(t *testing.T) {
	b := batch("b", "Soap", 1, 3)

	err := ApplyReturn(b, 4)

	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, 3, b.RemainingQty)

	require.NoError(t, ApplyReturn(b, 3))
	assert.Equal(t, 0, b.RemainingQty)
}

func TestDemandsIgnoresEmptyLines(t *testing.T) {
	got := Demands([]domain.BillItem{
		{ProductName: "Soap", Quantity: 0},
		{ProductName: "Tea", Quantity: 2},
	})
	assert.Equal(t, []Demand{{ProductName: "Tea", Quantity: 2}}, got)
}
