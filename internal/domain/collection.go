package domain

import "fmt"

// Collection names one server resource mirrored by the local cache.
type Collection string

const (
	CollectionProducts  Collection = "products"
	CollectionPurchases Collection = "purchases"
	CollectionBills     Collection = "bills"
	CollectionReturns   Collection = "returns"
)

// Collections lists every mirrored collection in sync order. A later collection
// may reference records of an earlier one, so drains and reloads walk it front to back.
var Collections = []Collection{
	CollectionProducts,
	CollectionPurchases,
	CollectionBills,
	CollectionReturns,
}

func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCollection(raw string) (Collection, error) {
	c := Collection(raw)
	if !c.Valid() {
		return "", &ValidationError{Field: "collection", Message: fmt.Sprintf("unknown collection %q", raw)}
	}
	return c, nil
}

// NewRecord returns an empty record of the type stored in c.
func NewRecord(c Collection) (Record, error) {
	switch c {
	case CollectionProducts:
		return &Product{}, nil
	case CollectionPurchases:
		return &PurchaseBatch{}, nil
	case CollectionBills:
		return &Bill{}, nil
	case CollectionReturns:
		return &Return{}, nil
	default:
		return nil, &ValidationError{Field: "collection", Message: fmt.Sprintf("unknown collection %q", c)}
	}
}
