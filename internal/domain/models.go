package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The REST contract carries prices as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Meta holds the fields every persisted record carries. PendingSync marks a
// record created while offline and not yet confirmed by the server.
type Meta struct {
	ID          string    `json:"_id,omitempty" bson:"_id,omitempty"`
	PendingSync bool      `json:"_pendingSync,omitempty" bson:"-"`
	CreatedAt   time.Time `json:"createdAt,omitzero" bson:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero" bson:"updatedAt,omitempty"`
}

func (m *Meta) Metadata() *Meta { return m }

// Record is implemented by the pointer of every collection type.
type Record interface {
	Collection() Collection
	Metadata() *Meta
	Validate() error
}

type ProductSpecific struct {
	Flavor string `json:"flavor,omitempty" bson:"flavor,omitempty"`
	Color  string `json:"color,omitempty" bson:"color,omitempty"`
	Weight string `json:"weight,omitempty" bson:"weight,omitempty"`
	Volume string `json:"volume,omitempty" bson:"volume,omitempty"`
}

type Product struct {
	Meta     `bson:",inline"`
	Name     string          `json:"name" bson:"name"`
	Specific ProductSpecific `json:"specific" bson:"specific"`
}

func (*Product) Collection() Collection { return CollectionProducts }

func (p *Product) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "product name is required"}
	}
	return nil
}

// PurchaseBatch is one inbound stock lot. RemainingQty only shrinks, through
// sales depleted FIFO and through returns to the supplier.
type PurchaseBatch struct {
	Meta          `bson:",inline"`
	ProductName   string          `json:"productName" bson:"productName"`
	PurchaseDate  time.Time       `json:"purchaseDate" bson:"purchaseDate"`
	Quantity      int             `json:"quantity" bson:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchasePrice" bson:"purchasePrice"`
	Discount      decimal.Decimal `json:"discount" bson:"discount"`
	MRP           decimal.Decimal `json:"mrp" bson:"mrp"`
	ExpiryDate    *time.Time      `json:"expiryDate,omitempty" bson:"expiryDate,omitempty"`
	RemainingQty  int             `json:"remainingQty" bson:"remainingQty"`
}

func (*PurchaseBatch) Collection() Collection { return CollectionPurchases }

// Validate checks a purchase draft. A new batch always starts full, so
// RemainingQty is reset to Quantity.
func (b *PurchaseBatch) Validate() error {
	b.ProductName = strings.TrimSpace(b.ProductName)
	switch {
	case b.ProductName == "":
		return &ValidationError{Field: "productName", Message: "product name is required"}
	case b.PurchaseDate.IsZero():
		return &ValidationError{Field: "purchaseDate", Message: "purchase date is required"}
	case b.Quantity < 1:
		return &ValidationError{Field: "quantity", Message: "quantity must be positive"}
	case b.PurchasePrice.IsNegative():
		return &ValidationError{Field: "purchasePrice", Message: "purchase price must not be negative"}
	case b.MRP.IsNegative():
		return &ValidationError{Field: "mrp", Message: "mrp must not be negative"}
	case !validPercent(b.Discount):
		return &ValidationError{Field: "discount", Message: "discount must be between 0 and 100"}
	}
	b.RemainingQty = b.Quantity
	return nil
}

// ExpiresWithin reports whether the batch expires in [from, to].
func (b *PurchaseBatch) ExpiresWithin(from time.Time, to time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return !b.ExpiryDate.Before(from) && !b.ExpiryDate.After(to)
}

const (
	PaymentCash  = "Cash"
	PaymentUPI   = "UPI"
	PaymentCard  = "Card"
	PaymentOther = "Other"
)

type BillItem struct {
	ProductName     string          `json:"productName" bson:"productName"`
	Quantity        int             `json:"quantity" bson:"quantity"`
	PricePerUnit    decimal.Decimal `json:"pricePerUnit" bson:"pricePerUnit"`
	Discount        decimal.Decimal `json:"discount" bson:"discount"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice" bson:"discountedPrice"`
	Total           decimal.Decimal `json:"total" bson:"total"`
}

var hundred = decimal.NewFromInt(100)

// Normalize derives the discounted unit price and the line total.
func (i *BillItem) Normalize() {
	i.DiscountedPrice = i.PricePerUnit
	if i.Discount.IsPositive() {
		i.DiscountedPrice = i.PricePerUnit.Mul(decimal.NewFromInt(1).Sub(i.Discount.Div(hundred)))
	}
	i.Total = i.DiscountedPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Bill struct {
	Meta          `bson:",inline"`
	BillNo        string          `json:"billNo" bson:"billNo"`
	CustomerName  string          `json:"customerName,omitempty" bson:"customerName,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty" bson:"customerPhone,omitempty"`
	Items         []BillItem      `json:"items" bson:"items"`
	TotalAmount   decimal.Decimal `json:"totalAmount" bson:"totalAmount"`
	PaidAmount    decimal.Decimal `json:"paidAmount" bson:"paidAmount"`
	PaymentMethod string          `json:"paymentMethod" bson:"paymentMethod"`
}

func (*Bill) Collection() Collection { return CollectionBills }

// Validate checks a bill draft and fills its derived amounts.
func (b *Bill) Validate() error {
	b.BillNo = strings.TrimSpace(b.BillNo)
	if b.BillNo == "" {
		return &ValidationError{Field: "billNo", Message: "bill number is required"}
	}
	if len(b.Items) == 0 {
		return &ValidationError{Field: "items", Message: "bill needs at least one item"}
	}
	for i := range b.Items {
		item := &b.Items[i]
		item.ProductName = strings.TrimSpace(item.ProductName)
		switch {
		case item.ProductName == "":
			return &ValidationError{Field: "items.productName", Message: "product name is required"}
		case item.Quantity < 1:
			return &ValidationError{Field: "items.quantity", Message: "quantity must be positive"}
		case item.PricePerUnit.IsNegative():
			return &ValidationError{Field: "items.pricePerUnit", Message: "price must not be negative"}
		case !validPercent(item.Discount):
			return &ValidationError{Field: "items.discount", Message: "discount must be between 0 and 100"}
		}
		item.Normalize()
	}
	if b.TotalAmount.IsZero() {
		b.TotalAmount = b.ItemsTotal()
	}
	if b.TotalAmount.IsNegative() || b.PaidAmount.IsNegative() {
		return &ValidationError{Field: "paidAmount", Message: "amounts must not be negative"}
	}
	switch b.PaymentMethod {
	case "":
		b.PaymentMethod = PaymentCash
	case PaymentCash, PaymentUPI, PaymentCard, PaymentOther:
	default:
		return &ValidationError{Field: "paymentMethod", Message: "payment method must be Cash, UPI, Card or Other"}
	}
	return nil
}

func (b *Bill) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.Items {
		total = total.Add(item.Total)
	}
	return total
}

// Return sends part of a purchase batch back to the supplier.
type Return struct {
	Meta           `bson:",inline"`
	PurchaseID     string          `json:"purchaseId" bson:"purchaseId"`
	ReturnedQty    int             `json:"returnedQty" bson:"returnedQty"`
	ExpectedRefund decimal.Decimal `json:"expectedRefund" bson:"expectedRefund"`
	ActualRefund   decimal.Decimal `json:"actualRefund" bson:"actualRefund"`
	ReturnDate     time.Time       `json:"returnDate,omitzero" bson:"returnDate"`
}

func (*Return) Collection() Collection { return CollectionReturns }

func (r *Return) Validate() error {
	r.PurchaseID = strings.TrimSpace(r.PurchaseID)
	switch {
	case r.PurchaseID == "":
		return &ValidationError{Field: "purchaseId", Message: "purchase id is required"}
	case r.ReturnedQty < 1:
		return &ValidationError{Field: "returnedQty", Message: "returned quantity must be positive"}
	case r.ExpectedRefund.IsNegative() || r.ActualRefund.IsNegative():
		return &ValidationError{Field: "actualRefund", Message: "refunds must not be negative"}
	}
	if r.ReturnDate.IsZero() {
		r.ReturnDate = time.Now().UTC()
	}
	return nil
}

func validPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}
