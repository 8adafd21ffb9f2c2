package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
)

const defaultPrefix = "onesmart:local:"

// Store keeps each collection in one Redis hash, field = record id.
// Durability follows the server's AOF/RDB settings.
type Store struct {
	client *goredis.Client
	prefix string
}

func New(addr string, password string, db int, prefix string) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client, prefix)
}

func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(c domain.Collection) string {
	return s.prefix + string(c)
}

func (s *Store) GetAll(ctx context.Context, c domain.Collection) ([]localstore.Document, error) {
	fields, err := s.client.HGetAll(ctx, s.key(c)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c, err)
	}
	docs := make([]localstore.Document, 0, len(fields))
	for id, data := range fields {
		docs = append(docs, localstore.Document{ID: id, Data: []byte(data)})
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, c domain.Collection, id string) (localstore.Document, error) {
	data, err := s.client.HGet(ctx, s.key(c), id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return localstore.Document{}, localstore.ErrNotFound
	}
	if err != nil {
		return localstore.Document{}, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return localstore.Document{ID: id, Data: data}, nil
}

func (s *Store) Put(ctx context.Context, c domain.Collection, doc localstore.Document) error {
	if doc.ID == "" {
		return localstore.ErrEmptyID
	}
	if err := s.client.HSet(ctx, s.key(c), doc.ID, doc.Data).Err(); err != nil {
		return fmt.Errorf("put %s/%s: %w", c, doc.ID, err)
	}
	return nil
}

func (s *Store) PutBulk(ctx context.Context, c domain.Collection, docs []localstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	values := make([]any, 0, len(docs)*2)
	for _, doc := range docs {
		if doc.ID == "" {
			return localstore.ErrEmptyID
		}
		values = append(values, doc.ID, doc.Data)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.key(c), values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk put %s: %w", c, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, c domain.Collection, id string) error {
	if err := s.client.HDel(ctx, s.key(c), id).Err(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, c domain.Collection) error {
	if err := s.client.Del(ctx, s.key(c)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", c, err)
	}
	return nil
}
