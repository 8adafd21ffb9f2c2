package memory

import (
	"testing"

	"onesmart/inventory/internal/localstore"
	"onesmart/inventory/internal/localstore/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) localstore.Store {
		return New()
	})
}
