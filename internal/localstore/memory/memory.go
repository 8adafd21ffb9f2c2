package memory

import (
	"context"
	"sync"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
)

// Store keeps documents in process memory. It does not survive restarts and
// is meant for tests and throwaway sessions.
type Store struct {
	mu   sync.RWMutex
	data map[domain.Collection]map[string][]byte
}

func New() *Store {
	return &Store{data: make(map[domain.Collection]map[string][]byte)}
}

func (s *Store) GetAll(_ context.Context, c domain.Collection) ([]localstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]localstore.Document, 0, len(s.data[c]))
	for id, data := range s.data[c] {
		docs = append(docs, localstore.Document{ID: id, Data: clone(data)})
	}
	return docs, nil
}

func (s *Store) Get(_ context.Context, c domain.Collection, id string) (localstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[c][id]
	if !ok {
		return localstore.Document{}, localstore.ErrNotFound
	}
	return localstore.Document{ID: id, Data: clone(data)}, nil
}

func (s *Store) Put(_ context.Context, c domain.Collection, doc localstore.Document) error {
	if doc.ID == "" {
		return localstore.ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(c, doc)
	return nil
}

func (s *Store) PutBulk(_ context.Context, c domain.Collection, docs []localstore.Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return localstore.ErrEmptyID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		s.put(c, doc)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, c domain.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[c], id)
	return nil
}

func (s *Store) Clear(_ context.Context, c domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, c)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) put(c domain.Collection, doc localstore.Document) {
	if _, ok := s.data[c]; !ok {
		s.data[c] = make(map[string][]byte)
	}
	s.data[c][doc.ID] = clone(doc.Data)
}

func clone(data []byte) []byte {
	dup := make([]byte, len(data))
	copy(dup, data)
	return dup
}
