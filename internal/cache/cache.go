// Package cache implements the per-collection read-through / write-through
// cache over the Local Store and the Remote Data Gateway.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
	"onesmart/inventory/internal/xid"
)

// Remote is the part of the gateway the cache needs.
type Remote interface {
	FetchAll(ctx context.Context, c domain.Collection) ([]json.RawMessage, error)
	Create(ctx context.Context, c domain.Collection, draft any) (json.RawMessage, error)
}

// Connectivity reports and, after a transport failure, lowers the online flag.
type Connectivity interface {
	Online() bool
	Set(online bool)
}

// Deps are shared by every collection cache of one client.
type Deps struct {
	Store        localstore.Store
	Remote       Remote
	Connectivity Connectivity
	Locks        *localstore.Locks
	Logger       *zap.Logger
	Now          func() time.Time
}

// Behavior lets other components take part in one collection's lifecycle.
// Every field is optional.
type Behavior[P any] struct {
	// BeforeCreate validates a draft against local state before anything is
	// written. online tells whether the draft is about to go to the server.
	BeforeCreate func(ctx context.Context, record P, online bool) error
	// AfterCreate applies local side effects of a stored record. Failures are
	// logged; the record stays stored.
	AfterCreate func(ctx context.Context, record P) error
	// Serialize wraps a whole create, from BeforeCreate to AfterCreate, so a
	// check and the effects it guards run as one unit.
	Serialize func(ctx context.Context, create func(context.Context) error) error
	// Replace wraps the step that swaps local contents for server contents.
	Replace func(ctx context.Context, replace func(context.Context) error) error
	// Remap rewrites references to records that were synced under a new id.
	Remap func(draft P, ids map[string]string)
	// Compare orders reads. The default is oldest first.
	Compare func(a P, b P) int
}

// Queued is a pending record stripped down to the draft the server expects.
type Queued struct {
	LocalID string
	Draft   any
}

// Cache mirrors one server collection. T is the record type, P its pointer.
type Cache[T any, P interface {
	*T
	domain.Record
}] struct {
	collection domain.Collection
	deps       Deps
	behavior   Behavior[P]
	logger     *zap.Logger
}

func New[T any, P interface {
	*T
	domain.Record
}](deps Deps, behavior Behavior[P]) *Cache[T, P] {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locks == nil {
		deps.Locks = localstore.NewLocks()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	collection := P(new(T)).Collection()
	return &Cache[T, P]{
		collection: collection,
		deps:       deps,
		behavior:   behavior,
		logger:     deps.Logger.Named("cache." + string(collection)),
	}
}

func (c *Cache[T, P]) Collection() domain.Collection {
	return c.collection
}

// GetAll returns the server's records merged with local pending ones when
// online, and the local contents otherwise. Connectivity failures never
// surface here; only Local Store failures do.
func (c *Cache[T, P]) GetAll(ctx context.Context) ([]P, error) {
	if c.deps.Connectivity.Online() {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("refresh failed, serving local data", zap.Error(err))
			c.noteFailure(err)
		}
	}
	return c.Local(ctx)
}

// Local returns the Local Store contents without touching the network.
func (c *Cache[T, P]) Local(ctx context.Context) ([]P, error) {
	docs, err := c.deps.Store.GetAll(ctx, c.collection)
	if err != nil {
		return nil, fmt.Errorf("read local %s: %w", c.collection, err)
	}
	records := make([]P, 0, len(docs))
	for _, doc := range docs {
		record, err := c.decode(doc.Data)
		if err != nil {
			c.logger.Error("skipping unreadable local record", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		if record.Metadata().ID == "" {
			record.Metadata().ID = doc.ID
		}
		records = append(records, record)
	}
	c.sort(records)
	return records, nil
}

// Pending returns the records created locally and not yet synced.
func (c *Cache[T, P]) Pending(ctx context.Context) ([]P, error) {
	records, err := c.Local(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(records, func(record P) bool {
		return !record.Metadata().PendingSync
	}), nil
}

// Refresh fetches the collection from the server and replaces every local
// record that is not pending. Pending records are never overwritten.
func (c *Cache[T, P]) Refresh(ctx context.Context) error {
	raw, err := c.deps.Remote.FetchAll(ctx, c.collection)
	if err != nil {
		return err
	}
	fresh := make([]localstore.Document, 0, len(raw))
	for _, item := range raw {
		record, err := c.decode(item)
		if err != nil {
			return fmt.Errorf("decode server %s: %w", c.collection, err)
		}
		meta := record.Metadata()
		if meta.ID == "" {
			return fmt.Errorf("server %s record without id", c.collection)
		}
		meta.PendingSync = false
		doc, err := c.encode(record)
		if err != nil {
			return err
		}
		fresh = append(fresh, doc)
	}

	replace := func(ctx context.Context) error {
		return c.replace(ctx, fresh)
	}
	if c.behavior.Replace != nil {
		return c.behavior.Replace(ctx, replace)
	}
	return replace(ctx)
}

func (c *Cache[T, P]) replace(ctx context.Context, fresh []localstore.Document) error {
	unlock := c.deps.Locks.Lock(c.collection)
	defer unlock()

	current, err := c.deps.Store.GetAll(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("read local %s: %w", c.collection, err)
	}
	pending := make(map[string]bool)
	for _, doc := range current {
		if isPending(doc.Data) {
			pending[doc.ID] = true
		}
	}

	keep := make(map[string]bool, len(fresh))
	upserts := make([]localstore.Document, 0, len(fresh))
	for _, doc := range fresh {
		if pending[doc.ID] {
			continue
		}
		keep[doc.ID] = true
		upserts = append(upserts, doc)
	}
	if err := c.deps.Store.PutBulk(ctx, c.collection, upserts); err != nil {
		return err
	}
	for _, doc := range current {
		if pending[doc.ID] || keep[doc.ID] {
			continue
		}
		if err := c.deps.Store.Delete(ctx, c.collection, doc.ID); err != nil {
			return err
		}
	}
	c.logger.Debug("refreshed from server", zap.Int("records", len(upserts)), zap.Int("pending", len(pending)))
	return nil
}

// Create validates draft and stores it on the server when online. When the
// server cannot be reached it is queued locally under a provisional id.
// Rejections by the server (4xx) are returned to the caller.
func (c *Cache[T, P]) Create(ctx context.Context, draft P) (P, error) {
	meta := draft.Metadata()
	*meta = domain.Meta{}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if c.behavior.Serialize == nil {
		return c.create(ctx, draft)
	}

	var record P
	err := c.behavior.Serialize(ctx, func(ctx context.Context) error {
		var err error
		record, err = c.create(ctx, draft)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Cache[T, P]) create(ctx context.Context, draft P) (P, error) {
	online := c.deps.Connectivity.Online()
	if c.behavior.BeforeCreate != nil {
		if err := c.behavior.BeforeCreate(ctx, draft, online); err != nil {
			return nil, err
		}
	}

	if online {
		record, err := c.createRemote(ctx, draft)
		if err == nil {
			return record, nil
		}
		if !queueable(err) {
			return nil, err
		}
		c.logger.Warn("server unavailable, queueing record locally", zap.Error(err))
		c.noteFailure(err)
	}
	return c.createLocal(ctx, draft)
}

func (c *Cache[T, P]) createRemote(ctx context.Context, draft P) (P, error) {
	raw, err := c.deps.Remote.Create(ctx, c.collection, draft)
	if err != nil {
		return nil, err
	}
	record, err := c.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode created %s: %w", c.collection, err)
	}
	meta := record.Metadata()
	if meta.ID == "" {
		return nil, fmt.Errorf("server returned %s without id", c.collection)
	}
	meta.PendingSync = false
	if err := c.Put(ctx, record); err != nil {
		return nil, err
	}
	c.after(ctx, record)
	return record, nil
}

func (c *Cache[T, P]) createLocal(ctx context.Context, draft P) (P, error) {
	now := c.deps.Now().UTC()
	meta := draft.Metadata()
	meta.ID = xid.Local()
	meta.PendingSync = true
	meta.CreatedAt = now
	meta.UpdatedAt = now

	if err := c.Put(ctx, draft); err != nil {
		return nil, err
	}
	c.logger.Info("record queued for sync", zap.String("id", meta.ID))
	c.after(ctx, draft)
	return draft, nil
}

func (c *Cache[T, P]) after(ctx context.Context, record P) {
	if c.behavior.AfterCreate == nil {
		return
	}
	if err := c.behavior.AfterCreate(ctx, record); err != nil {
		c.logger.Error("applying local effects failed", zap.String("id", record.Metadata().ID), zap.Error(err))
	}
}

// Put upserts one record.
func (c *Cache[T, P]) Put(ctx context.Context, record P) error {
	doc, err := c.encode(record)
	if err != nil {
		return err
	}
	if err := c.deps.Store.Put(ctx, c.collection, doc); err != nil {
		return fmt.Errorf("store %s/%s: %w", c.collection, doc.ID, err)
	}
	return nil
}

// Update runs a read-modify-write under the collection lock. fn receives every
// local record and returns the ones it changed, which are then persisted.
func (c *Cache[T, P]) Update(ctx context.Context, fn func(records []P) ([]P, error)) error {
	unlock := c.deps.Locks.Lock(c.collection)
	defer unlock()

	records, err := c.Local(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(records)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	now := c.deps.Now().UTC()
	docs := make([]localstore.Document, 0, len(changed))
	for _, record := range changed {
		record.Metadata().UpdatedAt = now
		doc, err := c.encode(record)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := c.deps.Store.PutBulk(ctx, c.collection, docs); err != nil {
		return fmt.Errorf("store %s: %w", c.collection, err)
	}
	return nil
}

// Remove deletes one local record.
func (c *Cache[T, P]) Remove(ctx context.Context, id string) error {
	unlock := c.deps.Locks.Lock(c.collection)
	defer unlock()

	if err := c.deps.Store.Delete(ctx, c.collection, id); err != nil {
		return fmt.Errorf("remove %s/%s: %w", c.collection, id, err)
	}
	return nil
}

// Clear wipes the local collection, pending records included.
func (c *Cache[T, P]) Clear(ctx context.Context) error {
	unlock := c.deps.Locks.Lock(c.collection)
	defer unlock()

	if err := c.deps.Store.Clear(ctx, c.collection); err != nil {
		return fmt.Errorf("clear %s: %w", c.collection, err)
	}
	c.logger.Info("local collection cleared")
	return nil
}

// Queue returns the pending records as server drafts, oldest first. The
// local-only fields are stripped and ids in ids are rewritten through Remap.
func (c *Cache[T, P]) Queue(ctx context.Context, ids map[string]string) ([]Queued, error) {
	pending, err := c.Pending(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(pending, compareCreated[P])

	queued := make([]Queued, 0, len(pending))
	for _, record := range pending {
		dup := *record
		draft := P(&dup)
		*draft.Metadata() = domain.Meta{}
		if c.behavior.Remap != nil && len(ids) > 0 {
			c.behavior.Remap(draft, ids)
		}
		queued = append(queued, Queued{LocalID: record.Metadata().ID, Draft: draft})
	}
	return queued, nil
}

func (c *Cache[T, P]) decode(data []byte) (P, error) {
	record := P(new(T))
	if err := json.Unmarshal(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Cache[T, P]) encode(record P) (localstore.Document, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return localstore.Document{}, fmt.Errorf("encode %s: %w", c.collection, err)
	}
	return localstore.Document{ID: record.Metadata().ID, Data: data}, nil
}

func (c *Cache[T, P]) sort(records []P) {
	if c.behavior.Compare != nil {
		slices.SortStableFunc(records, c.behavior.Compare)
		return
	}
	slices.SortStableFunc(records, compareCreated[P])
}

// noteFailure lowers the online flag after a transport failure so the next
// successful probe is an edge and triggers a sync.
func (c *Cache[T, P]) noteFailure(err error) {
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		c.deps.Connectivity.Set(false)
	}
}

// NewestFirst orders records by creation time, newest first.
func NewestFirst[P domain.Record](a P, b P) int {
	return -compareCreated(a, b)
}

func compareCreated[P domain.Record](a P, b P) int {
	if c := a.Metadata().CreatedAt.Compare(b.Metadata().CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Metadata().ID, b.Metadata().ID)
}

// queueable reports whether a failed create should fall back to the local queue.
func queueable(err error) bool {
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var srvErr *domain.ServerError
	return errors.As(err, &srvErr) && srvErr.Status >= http.StatusInternalServerError
}

func isPending(data []byte) bool {
	var probe struct {
		PendingSync bool `json:"_pendingSync"`
	}
	return json.Unmarshal(data, &probe) == nil && probe.PendingSync
}
