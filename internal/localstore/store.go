// Package localstore is the client's persistent mirror of server collections.
// Backends only see opaque JSON documents keyed by record id; typing happens
// in the cache layer.
package localstore

import (
	"context"
	"errors"
	"sync"

	"onesmart/inventory/internal/domain"
)

var (
	ErrEmptyID  = errors.New("document id is required")
	ErrNotFound = errors.New("document not found")
)

// Document is one stored record.
type Document struct {
	ID   string
	Data []byte
}

// Store persists documents per collection across restarts. GetAll has no
// ordering guarantee.
type Store interface {
	GetAll(ctx context.Context, c domain.Collection) ([]Document, error)
	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, c domain.Collection, id string) (Document, error)
	Put(ctx context.Context, c domain.Collection, doc Document) error
	PutBulk(ctx context.Context, c domain.Collection, docs []Document) error
	Delete(ctx context.Context, c domain.Collection, id string) error
	Clear(ctx context.Context, c domain.Collection) error
	Close() error
}

// ClearAll wipes every mirrored collection.
func ClearAll(ctx context.Context, s Store) error {
	for _, c := range domain.Collections {
		if err := s.Clear(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Locks serializes read-modify-write sequences on one collection.
// Callers must never hold two collection locks at once.
type Locks struct {
	mu    sync.Mutex
	byCol map[domain.Collection]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{byCol: make(map[domain.Collection]*sync.Mutex)}
}

// Lock acquires the collection lock and returns its release func.
func (l *Locks) Lock(c domain.Collection) func() {
	l.mu.Lock()
	m, ok := l.byCol[c]
	if !ok {
		m = &sync.Mutex{}
		l.byCol[c] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
