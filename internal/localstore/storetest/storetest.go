// Package storetest checks that a Local Store backend honors the contract.
package storetest

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
)

// Run exercises a fresh, empty store returned by open.
func Run(t *testing.T, open func(t *testing.T) localstore.Store) {
	t.Run("put upserts by id", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, domain.CollectionProducts, localstore.Document{ID: "p1", Data: []byte(`{"v":1}`)}))
		require.NoError(t, s.Put(ctx, domain.CollectionProducts, localstore.Document{ID: "p1", Data: []byte(`{"v":2}`)}))

		docs, err := s.GetAll(ctx, domain.CollectionProducts)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.JSONEq(t, `{"v":2}`, string(docs[0].Data))
	})

	t.Run("get returns one document", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, domain.CollectionBills, localstore.Document{ID: "b1", Data: []byte(`{"v":1}`)}))

		doc, err := s.Get(ctx, domain.CollectionBills, "b1")
		require.NoError(t, err)
		assert.Equal(t, "b1", doc.ID)
		assert.JSONEq(t, `{"v":1}`, string(doc.Data))

		_, err = s.Get(ctx, domain.CollectionBills, "missing")
		assert.ErrorIs(t, err, localstore.ErrNotFound)
		_, err = s.Get(ctx, domain.CollectionReturns, "b1")
		assert.ErrorIs(t, err, localstore.ErrNotFound)
	})

	t.Run("bulk put stores every document", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		docs := []localstore.Document{
			{ID: "b1", Data: []byte(`{}`)},
			{ID: "b2", Data: []byte(`{}`)},
			{ID: "b3", Data: []byte(`{}`)},
		}
		require.NoError(t, s.PutBulk(ctx, domain.CollectionBills, docs))
		require.NoError(t, s.PutBulk(ctx, domain.CollectionBills, nil))

		assert.Equal(t, []string{"b1", "b2", "b3"}, ids(t, s, domain.CollectionBills))
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, domain.CollectionBills, localstore.Document{ID: "x", Data: []byte(`{}`)}))
		require.NoError(t, s.Put(ctx, domain.CollectionReturns, localstore.Document{ID: "x", Data: []byte(`{}`)}))
		require.NoError(t, s.Clear(ctx, domain.CollectionBills))

		assert.Empty(t, ids(t, s, domain.CollectionBills))
		assert.Equal(t, []string{"x"}, ids(t, s, domain.CollectionReturns))
	})

	t.Run("delete removes one document", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.PutBulk(ctx, domain.CollectionPurchases, []localstore.Document{
			{ID: "a", Data: []byte(`{}`)},
			{ID: "b", Data: []byte(`{}`)},
		}))
		require.NoError(t, s.Delete(ctx, domain.CollectionPurchases, "a"))
		require.NoError(t, s.Delete(ctx, domain.CollectionPurchases, "missing"))

		assert.Equal(t, []string{"b"}, ids(t, s, domain.CollectionPurchases))
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		s := open(t)
		err := s.Put(context.Background(), domain.CollectionProducts, localstore.Document{Data: []byte(`{}`)})
		assert.ErrorIs(t, err, localstore.ErrEmptyID)
	})
}

func ids(t *testing.T, s localstore.Store, c domain.Collection) []string {
	t.Helper()
	docs, err := s.GetAll(context.Background(), c)
	require.NoError(t, err)
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.ID)
	}
	sort.Strings(out)
	return out
}
