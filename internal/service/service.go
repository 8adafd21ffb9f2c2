// Package service is the offline client's facade: the operations the UI layer
// calls, backed by the collection caches and the sync engine.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"onesmart/inventory/internal/cache"
	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
	"onesmart/inventory/internal/metrics"
	"onesmart/inventory/internal/reconciler"
	"onesmart/inventory/internal/syncer"
)

const defaultExpiryWindow = 30 * 24 * time.Hour

// Remote is the gateway as used by the client.
type Remote interface {
	FetchAll(ctx context.Context, c domain.Collection) ([]json.RawMessage, error)
	Create(ctx context.Context, c domain.Collection, draft any) (json.RawMessage, error)
	FetchExpiring(ctx context.Context) ([]json.RawMessage, error)
}

// Connectivity is satisfied by *connectivity.Monitor.
type Connectivity interface {
	Online() bool
	Set(online bool)
}

type Deps struct {
	Store        localstore.Store
	Remote       Remote
	Connectivity Connectivity
	Metrics      *metrics.Sync
	Logger       *zap.Logger
	Now          func() time.Time
	// ExpiryWindow bounds the offline expiring-purchases view. Zero means 30 days.
	ExpiryWindow time.Duration
}

type Service struct {
	products  *cache.Cache[domain.Product, *domain.Product]
	purchases *cache.Cache[domain.PurchaseBatch, *domain.PurchaseBatch]
	bills     *cache.Cache[domain.Bill, *domain.Bill]
	returns   *cache.Cache[domain.Return, *domain.Return]

	engine       *syncer.Engine
	remote       Remote
	connectivity Connectivity
	ledger       *localstore.Ledger
	metrics      *metrics.Sync
	logger       *zap.Logger
	now          func() time.Time
	expiryWindow time.Duration
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ExpiryWindow <= 0 {
		deps.ExpiryWindow = defaultExpiryWindow
	}

	ledger := localstore.NewLedger(deps.Store, deps.Now)
	cacheDeps := cache.Deps{
		Store:        deps.Store,
		Remote:       deps.Remote,
		Connectivity: deps.Connectivity,
		Locks:        localstore.NewLocks(),
		Logger:       deps.Logger,
		Now:          deps.Now,
	}

	rec := reconciler.New(ledger, deps.Logger.Named("reconciler"))
	s := &Service{
		products:     cache.New[domain.Product](cacheDeps, cache.Behavior[*domain.Product]{}),
		purchases:    cache.New[domain.PurchaseBatch](cacheDeps, rec.PurchaseBehavior()),
		bills:        cache.New[domain.Bill](cacheDeps, rec.BillBehavior()),
		returns:      cache.New[domain.Return](cacheDeps, rec.ReturnBehavior()),
		remote:       deps.Remote,
		connectivity: deps.Connectivity,
		ledger:       ledger,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Now,
		expiryWindow: deps.ExpiryWindow,
	}
	rec.Track(s.purchases, s.bills, s.returns)

	s.engine = syncer.New(syncer.Options{
		Collections:  []syncer.Collection{s.products, s.purchases, s.bills, s.returns},
		Remote:       deps.Remote,
		Connectivity: deps.Connectivity,
		Ledger:       ledger,
		Metrics:      deps.Metrics,
		Logger:       deps.Logger.Named("syncer"),
		Now:          deps.Now,
	})
	s.engine.OnReport(func(domain.SyncReport) {
		s.observePending(context.Background())
	})
	return s
}

func (s *Service) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	return s.products.GetAll(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, draft *domain.Product) (*domain.Product, error) {
	return s.products.Create(ctx, draft)
}

func (s *Service) ListPurchases(ctx context.Context) ([]*domain.PurchaseBatch, error) {
	return s.purchases.GetAll(ctx)
}

func (s *Service) CreatePurchase(ctx context.Context, draft *domain.PurchaseBatch) (*domain.PurchaseBatch, error) {
	return s.purchases.Create(ctx, draft)
}

// ListBills returns bills newest first.
func (s *Service) ListBills(ctx context.Context) ([]*domain.Bill, error) {
	return s.bills.GetAll(ctx)
}

// CreateBill records a sale. Local stock is depleted FIFO whether the bill
// went to the server or was queued.
func (s *Service) CreateBill(ctx context.Context, draft *domain.Bill) (*domain.Bill, error) {
	return s.bills.Create(ctx, draft)
}

func (s *Service) ListReturns(ctx context.Context) ([]*domain.Return, error) {
	return s.returns.GetAll(ctx)
}

// CreateReturn records a return to the supplier. A quantity above the batch's
// remaining stock is a *domain.ValidationError and changes nothing.
func (s *Service) CreateReturn(ctx context.Context, draft *domain.Return) (*domain.Return, error) {
	return s.returns.Create(ctx, draft)
}

// List is the collection-addressed form of the List* methods.
func (s *Service) List(ctx context.Context, c domain.Collection) (any, error) {
	switch c {
	case domain.CollectionProducts:
		return s.ListProducts(ctx)
	case domain.CollectionPurchases:
		return s.ListPurchases(ctx)
	case domain.CollectionBills:
		return s.ListBills(ctx)
	case domain.CollectionReturns:
		return s.ListReturns(ctx)
	}
	_, err := domain.ParseCollection(string(c))
	return nil, err
}

// Create decodes a JSON draft for c and creates it.
func (s *Service) Create(ctx context.Context, c domain.Collection, body []byte) (any, error) {
	record, err := domain.NewRecord(c)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, record); err != nil {
		return nil, &domain.ValidationError{Field: "body", Message: fmt.Sprintf("invalid %s payload: %v", c, err)}
	}

	switch draft := record.(type) {
	case *domain.Product:
		return s.CreateProduct(ctx, draft)
	case *domain.PurchaseBatch:
		return s.CreatePurchase(ctx, draft)
	case *domain.Bill:
		return s.CreateBill(ctx, draft)
	case *domain.Return:
		return s.CreateReturn(ctx, draft)
	}
	return nil, fmt.Errorf("no cache for %s", c)
}

// ExpiringPurchases lists batches expiring soon. Online it asks the server;
// offline, or when the server fails, it filters local batches to those
// expiring within the window. Pending local batches are always included.
func (s *Service) ExpiringPurchases(ctx context.Context) ([]*domain.PurchaseBatch, error) {
	local, err := s.purchases.Local(ctx)
	if err != nil {
		return nil, err
	}
	from := s.now().UTC()
	to := from.Add(s.expiryWindow)

	if s.connectivity.Online() {
		remote, err := s.fetchExpiring(ctx)
		if err == nil {
			for _, batch := range local {
				if batch.PendingSync && batch.ExpiresWithin(from, to) {
					remote = append(remote, batch)
				}
			}
			return remote, nil
		}
		s.logger.Warn("expiring purchases unavailable from server, using local data", zap.Error(err))
	}

	expiring := make([]*domain.PurchaseBatch, 0, len(local))
	for _, batch := range local {
		if batch.ExpiresWithin(from, to) {
			expiring = append(expiring, batch)
		}
	}
	return expiring, nil
}

func (s *Service) fetchExpiring(ctx context.Context) ([]*domain.PurchaseBatch, error) {
	raw, err := s.remote.FetchExpiring(ctx)
	if err != nil {
		return nil, err
	}
	batches := make([]*domain.PurchaseBatch, 0, len(raw))
	for _, item := range raw {
		batch := &domain.PurchaseBatch{}
		if err := json.Unmarshal(item, batch); err != nil {
			return nil, fmt.Errorf("decode expiring purchase: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// RefreshAll reloads every collection from the server, keeping pending records.
func (s *Service) RefreshAll(ctx context.Context) error {
	if !s.connectivity.Online() {
		return syncer.ErrOffline
	}
	var errs []error
	for _, c := range s.caches() {
		if err := c.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", c.Collection(), err))
		}
	}
	return errors.Join(errs...)
}

// SyncNow runs a sync pass on demand.
func (s *Service) SyncNow(ctx context.Context) (domain.SyncReport, error) {
	return s.engine.Sync(ctx)
}

// TriggerSync is the connectivity monitor's online-edge hook.
func (s *Service) TriggerSync(ctx context.Context) {
	s.engine.Trigger(ctx)
}

// OnSyncReport registers fn to receive every sync report.
func (s *Service) OnSyncReport(fn func(domain.SyncReport)) {
	s.engine.OnReport(fn)
}

func (s *Service) Status(ctx context.Context) (domain.Status, error) {
	pending, err := s.pendingCounts(ctx)
	if err != nil {
		return domain.Status{}, err
	}
	online := s.connectivity.Online()
	s.metrics.SetOnline(online)
	for c, n := range pending {
		s.metrics.SetPending(c, n)
	}
	return domain.Status{
		Online:   online,
		Syncing:  s.engine.Running(),
		Pending:  pending,
		LastSync: s.engine.LastReport(),
	}, nil
}

// ClearCollection wipes one local collection, pending records included.
func (s *Service) ClearCollection(ctx context.Context, name string) error {
	c, err := domain.ParseCollection(name)
	if err != nil {
		return err
	}
	for _, cc := range s.caches() {
		if cc.Collection() == c {
			return cc.Clear(ctx)
		}
	}
	return nil
}

// ClearAll wipes every local collection. It is immediate; confirming with the
// user is the caller's job.
func (s *Service) ClearAll(ctx context.Context) error {
	for _, c := range s.caches() {
		if err := c.Clear(ctx); err != nil {
			return err
		}
	}
	s.logger.Warn("all local data cleared")
	s.observePending(ctx)
	return nil
}

// Snapshot returns the raw local contents of every collection.
func (s *Service) Snapshot(ctx context.Context) (map[domain.Collection]any, error) {
	out := make(map[domain.Collection]any, len(domain.Collections))
	var err error
	if out[domain.CollectionProducts], err = s.products.Local(ctx); err != nil {
		return nil, err
	}
	if out[domain.CollectionPurchases], err = s.purchases.Local(ctx); err != nil {
		return nil, err
	}
	if out[domain.CollectionBills], err = s.bills.Local(ctx); err != nil {
		return nil, err
	}
	if out[domain.CollectionReturns], err = s.returns.Local(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// collectionCache is what the facade needs from every cache regardless of type.
type collectionCache interface {
	Collection() domain.Collection
	Refresh(ctx context.Context) error
	Clear(ctx context.Context) error
}

func (s *Service) caches() []collectionCache {
	return []collectionCache{s.products, s.purchases, s.bills, s.returns}
}

func (s *Service) pendingCounts(ctx context.Context) (map[domain.Collection]int, error) {
	counts := make(map[domain.Collection]int, len(domain.Collections))
	var errs []error
	count := func(c domain.Collection, n int, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		counts[c] = n
	}

	products, err := s.products.Pending(ctx)
	count(domain.CollectionProducts, len(products), err)
	purchases, err := s.purchases.Pending(ctx)
	count(domain.CollectionPurchases, len(purchases), err)
	bills, err := s.bills.Pending(ctx)
	count(domain.CollectionBills, len(bills), err)
	returns, err := s.returns.Pending(ctx)
	count(domain.CollectionReturns, len(returns), err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return counts, nil
}

func (s *Service) observePending(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	counts, err := s.pendingCounts(ctx)
	if err != nil {
		s.logger.Warn("counting pending records failed", zap.Error(err))
		return
	}
	for c, n := range counts {
		s.metrics.SetPending(c, n)
	}
	s.metrics.SetOnline(s.connectivity.Online())
}
