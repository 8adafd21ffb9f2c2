// Package mongodb implements store.Repository on MongoDB. Bills and returns
// use multi-document transactions, so the server must run as a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/inventory"
	"onesmart/inventory/internal/store"
	"onesmart/inventory/internal/xid"
)

type Store struct {
	client    *mongo.Client
	products  *mongo.Collection
	purchases *mongo.Collection
	bills     *mongo.Collection
	returns   *mongo.Collection
	now       func() time.Time
}

func New(ctx context.Context, uri string, dbName string) (*Store, error) {
	clientOptions := options.Client().ApplyURI(uri).SetRegistry(Registry())
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:    client,
		products:  db.Collection(string(domain.CollectionProducts)),
		purchases: db.Collection(string(domain.CollectionPurchases)),
		bills:     db.Collection(string(domain.CollectionBills)),
		returns:   db.Collection(string(domain.CollectionReturns)),
		now:       time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.products: {{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}},
		s.bills:    {{Keys: bson.D{{Key: "billNo", Value: 1}}, Options: options.Index().SetUnique(true)}},
		s.purchases: {
			{Keys: bson.D{{Key: "productName", Value: 1}, {Key: "purchaseDate", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "expiryDate", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var oldestFirst = options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return find[domain.Product](ctx, s.products, bson.D{}, oldestFirst)
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	product.Meta = s.meta("prd")
	if _, err := s.products.InsertOne(ctx, product); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: product %q", store.ErrDuplicate, product.Name)
		}
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	return &product, nil
}

func (s *Store) ListPurchases(ctx context.Context) ([]domain.PurchaseBatch, error) {
	return find[domain.PurchaseBatch](ctx, s.purchases, bson.D{}, oldestFirst)
}

func (s *Store) ListExpiringPurchases(ctx context.Context, from time.Time, to time.Time) ([]domain.PurchaseBatch, error) {
	filter := bson.D{
		{Key: "remainingQty", Value: bson.D{{Key: "$gt", Value: 0}}},
		{Key: "expiryDate", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lte", Value: to}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "expiryDate", Value: 1}, {Key: "_id", Value: 1}})
	return find[domain.PurchaseBatch](ctx, s.purchases, filter, opts)
}

func (s *Store) CreatePurchase(ctx context.Context, batch domain.PurchaseBatch) (*domain.PurchaseBatch, error) {
	if batch.ProductName == "" || batch.Quantity < 1 {
		return nil, store.ErrInvalidRecord
	}
	batch.Meta = s.meta("pur")
	batch.RemainingQty = batch.Quantity
	if _, err := s.purchases.InsertOne(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to insert purchase: %w", err)
	}
	return &batch, nil
}

func (s *Store) ListBills(ctx context.Context) ([]domain.Bill, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return find[domain.Bill](ctx, s.bills, bson.D{}, opts)
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNo == "" || len(bill.Items) == 0 {
		return nil, store.ErrInvalidRecord
	}
	bill.Meta = s.meta("bil")

	err := s.transaction(ctx, func(sc mongo.SessionContext) error {
		var batches []*domain.PurchaseBatch
		fifo := options.Find().SetSort(bson.D{{Key: "purchaseDate", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
		for _, demand := range inventory.Demands(bill.Items) {
			filter := bson.D{
				{Key: "productName", Value: demand.ProductName},
				{Key: "remainingQty", Value: bson.D{{Key: "$gt", Value: 0}}},
			}
			found, err := find[domain.PurchaseBatch](sc, s.purchases, filter, fifo)
			if err != nil {
				return err
			}
			for i := range found {
				batches = append(batches, &found[i])
			}
		}

		touched, warnings := inventory.ApplyBill(batches, bill.Items)
		if err := store.Shortage(warnings); err != nil {
			return err
		}
		for _, batch := range touched {
			update := bson.D{{Key: "$set", Value: bson.D{
				{Key: "remainingQty", Value: batch.RemainingQty},
				{Key: "updatedAt", Value: bill.CreatedAt},
			}}}
			if _, err := s.purchases.UpdateByID(sc, batch.ID, update); err != nil {
				return fmt.Errorf("failed to update purchase %s: %w", batch.ID, err)
			}
		}
		if _, err := s.bills.InsertOne(sc, bill); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: bill %s", store.ErrDuplicate, bill.BillNo)
			}
			return fmt.Errorf("failed to insert bill: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) ListReturns(ctx context.Context) ([]domain.Return, error) {
	return find[domain.Return](ctx, s.returns, bson.D{}, oldestFirst)
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	ret.Meta = s.meta("ret")

	err := s.transaction(ctx, func(sc mongo.SessionContext) error {
		var batch domain.PurchaseBatch
		if err := s.purchases.FindOne(sc, bson.D{{Key: "_id", Value: ret.PurchaseID}}).Decode(&batch); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return fmt.Errorf("%w: purchase %s", store.ErrNotFound, ret.PurchaseID)
			}
			return err
		}
		if err := store.CheckReturn(&batch, ret.ReturnedQty); err != nil {
			return err
		}

		update := bson.D{
			{Key: "$inc", Value: bson.D{{Key: "remainingQty", Value: -ret.ReturnedQty}}},
			{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: ret.CreatedAt}}},
		}
		if _, err := s.purchases.UpdateByID(sc, batch.ID, update); err != nil {
			return fmt.Errorf("failed to update purchase %s: %w", batch.ID, err)
		}
		if _, err := s.returns.InsertOne(sc, ret); err != nil {
			return fmt.Errorf("failed to insert return: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) transaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) meta(prefix string) domain.Meta {
	now := s.now().UTC()
	return domain.Meta{ID: xid.New(prefix), CreatedAt: now, UpdatedAt: now}
}

func find[T any](ctx context.Context, coll *mongo.Collection, filter bson.D, opts *options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
