// Package syncer pushes records queued while offline to the server and then
// reloads the local mirror from it.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"onesmart/inventory/internal/cache"
	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/metrics"
)

var (
	// ErrSyncInProgress is returned to a trigger that arrives while a pass runs.
	// The trigger is dropped: the running pass's reload already picks up the
	// newest server state.
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("server is offline")
)

// Collection is one collection cache as seen by the engine.
type Collection interface {
	Collection() domain.Collection
	Queue(ctx context.Context, ids map[string]string) ([]cache.Queued, error)
	Remove(ctx context.Context, id string) error
	Refresh(ctx context.Context) error
}

type Remote interface {
	Create(ctx context.Context, c domain.Collection, draft any) (json.RawMessage, error)
}

type Connectivity interface {
	Online() bool
}

// Ledger is the processed-bill ledger; the engine is the only component that
// clears it.
type Ledger interface {
	Clear(ctx context.Context) error
}

type Options struct {
	Collections  []Collection
	Remote       Remote
	Connectivity Connectivity
	Ledger       Ledger
	Metrics      *metrics.Sync
	Logger       *zap.Logger
	Now          func() time.Time
}

type Engine struct {
	collections  []Collection
	remote       Remote
	connectivity Connectivity
	ledger       Ledger
	metrics      *metrics.Sync
	logger       *zap.Logger
	now          func() time.Time

	running atomic.Bool

	mu        sync.Mutex
	last      *domain.SyncReport
	listeners []func(domain.SyncReport)
}

// New orders the collections products, purchases, bills, returns regardless
// of the order they are given in.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	byName := make(map[domain.Collection]Collection, len(opts.Collections))
	for _, c := range opts.Collections {
		byName[c.Collection()] = c
	}
	ordered := make([]Collection, 0, len(byName))
	for _, name := range domain.Collections {
		if c, ok := byName[name]; ok {
			ordered = append(ordered, c)
		}
	}

	return &Engine{
		collections:  ordered,
		remote:       opts.Remote,
		connectivity: opts.Connectivity,
		ledger:       opts.Ledger,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Now,
	}
}

// OnReport registers fn to receive the report of every finished pass.
func (e *Engine) OnReport(fn func(domain.SyncReport)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastReport returns the report of the most recent pass, or nil.
func (e *Engine) LastReport() *domain.SyncReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	report := *e.last
	return &report
}

// Sync runs one pass: drain every pending record in collection order, then
// reload each collection from the server. Per-record failures end up in the
// report; the returned error is only ErrSyncInProgress or ErrOffline.
func (e *Engine) Sync(ctx context.Context) (domain.SyncReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return domain.SyncReport{Reason: ErrSyncInProgress.Error()}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	report := domain.SyncReport{StartedAt: e.now().UTC()}
	if !e.connectivity.Online() {
		report.Reason = ErrOffline.Error()
		report.FinishedAt = e.now().UTC()
		e.finish(report)
		return report, ErrOffline
	}

	e.logger.Info("sync started")
	report.Synced = true
	ids := make(map[string]string)
	for _, c := range e.collections {
		e.drain(ctx, c, ids, &report.Results)
	}

	reloaded, err := e.reload(ctx)
	report.Reloaded = reloaded
	if err != nil {
		report.ReloadError = err.Error()
		e.logger.Warn("reload incomplete", zap.Strings("reloaded", reloaded), zap.Error(err))
	} else if err := e.ledger.Clear(ctx); err != nil {
		report.ReloadError = fmt.Sprintf("clear processed bills: %v", err)
		e.logger.Error("clearing processed bills failed", zap.Error(err))
	}

	report.FinishedAt = e.now().UTC()
	e.logger.Info("sync finished",
		zap.Int("synced", report.Results.Total()),
		zap.Int("failed", report.Results.Failed),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	e.finish(report)
	return report, nil
}

// Trigger runs a pass for the connectivity monitor's online edge. A pass
// already running makes it a no-op.
func (e *Engine) Trigger(ctx context.Context) {
	report, err := e.Sync(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		e.logger.Debug("sync trigger dropped, pass already running")
	case err != nil:
		e.logger.Info("sync skipped", zap.Error(err))
	default:
		e.logger.Info(report.Summary())
	}
}

// drain submits the pending records of one collection. A record is deleted
// locally only after the server accepted it; a failure leaves it pending.
func (e *Engine) drain(ctx context.Context, c Collection, ids map[string]string, results *domain.SyncResults) {
	name := c.Collection()
	queued, err := c.Queue(ctx, ids)
	if err != nil {
		results.Fail(name, "*", err)
		e.logger.Error("reading pending records failed", zap.String("collection", string(name)), zap.Error(err))
		return
	}

	for _, q := range queued {
		raw, err := e.remote.Create(ctx, name, q.Draft)
		if err != nil {
			results.Fail(name, q.LocalID, err)
			e.logger.Warn("pending record not synced", zap.String("collection", string(name)), zap.String("id", q.LocalID), zap.Error(err))
			continue
		}
		if serverID := recordID(raw); serverID != "" {
			ids[q.LocalID] = serverID
		}
		if err := c.Remove(ctx, q.LocalID); err != nil {
			// The server has the record; the next pass pushes it a second time.
			results.Fail(name, q.LocalID, fmt.Errorf("synced but not removed locally: %w", err))
			e.logger.Error("removing synced record failed", zap.String("id", q.LocalID), zap.Error(err))
			continue
		}
		results.Add(name)
	}
}

// reload refreshes each collection in order and stops at the first failure.
// Collections refreshed before it stay refreshed.
func (e *Engine) reload(ctx context.Context) ([]string, error) {
	reloaded := make([]string, 0, len(e.collections))
	for _, c := range e.collections {
		if err := c.Refresh(ctx); err != nil {
			return reloaded, fmt.Errorf("reload %s: %w", c.Collection(), err)
		}
		reloaded = append(reloaded, string(c.Collection()))
	}
	return reloaded, nil
}

func (e *Engine) finish(report domain.SyncReport) {
	e.metrics.ObservePass(report)

	e.mu.Lock()
	e.last = &report
	listeners := append([]func(domain.SyncReport){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(report)
	}
}

func recordID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"_id"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return ""
	}
	return probe.ID
}
