package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/localstore"
)

const bulkBatchSize = 200

type document struct {
	Collection string `gorm:"primaryKey;size:64"`
	ID         string `gorm:"primaryKey;size:128"`
	Data       []byte `gorm:"not null"`
	UpdatedAt  time.Time
}

func (document) TableName() string {
	return "local_documents"
}

// Store is the default embedded Local Store: one SQLite file holding every
// collection in a single keyed table.
type Store struct {
	db *gorm.DB
}

// Open creates or reopens the database file at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open local store %s: %w", path, err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing connection and migrates the document table.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&document{}); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetAll(ctx context.Context, c domain.Collection) ([]localstore.Document, error) {
	var rows []document
	if err := s.db.WithContext(ctx).Where("collection = ?", string(c)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read %s: %w", c, err)
	}
	docs := make([]localstore.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, localstore.Document{ID: row.ID, Data: row.Data})
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, c domain.Collection, id string) (localstore.Document, error) {
	var row document
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", string(c), id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return localstore.Document{}, localstore.ErrNotFound
	}
	if err != nil {
		return localstore.Document{}, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return localstore.Document{ID: row.ID, Data: row.Data}, nil
}

func (s *Store) Put(ctx context.Context, c domain.Collection, doc localstore.Document) error {
	if doc.ID == "" {
		return localstore.ErrEmptyID
	}
	row := toRow(c, doc)
	if err := s.db.WithContext(ctx).Clauses(upsert()).Create(&row).Error; err != nil {
		return fmt.Errorf("put %s/%s: %w", c, doc.ID, err)
	}
	return nil
}

func (s *Store) PutBulk(ctx context.Context, c domain.Collection, docs []localstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return localstore.ErrEmptyID
		}
		rows = append(rows, toRow(c, doc))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(upsert()).CreateInBatches(&rows, bulkBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("bulk put %s: %w", c, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, c domain.Collection, id string) error {
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", string(c), id).
		Delete(&document{}).Error
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, c domain.Collection) error {
	if err := s.db.WithContext(ctx).Where("collection = ?", string(c)).Delete(&document{}).Error; err != nil {
		return fmt.Errorf("clear %s: %w", c, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(c domain.Collection, doc localstore.Document) document {
	return document{
		Collection: string(c),
		ID:         doc.ID,
		Data:       doc.Data,
		UpdatedAt:  time.Now().UTC(),
	}
}

func upsert() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}
}
