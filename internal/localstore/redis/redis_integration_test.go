package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
	"onesmart/inventory/internal/localstore/storetest"
)

func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("ONESMART_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set ONESMART_TEST_REDIS_ADDR to run redis integration test")
	}

	storetest.Run(t, func(t *testing.T) localstore.Store {
		prefix := fmt.Sprintf("onesmart:test:%d:", time.Now().UnixNano())
		s := New(addr, "", 0, prefix)
		require.NoError(t, s.Ping(context.Background()))
		t.Cleanup(func() {
			for _, c := range domain.Collections {
				_ = s.Clear(context.Background(), c)
			}
			_ = s.Close()
		})
		return s
	})
}
