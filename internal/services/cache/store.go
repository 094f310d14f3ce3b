package cache

import (
	"context"
	"errors"

	"github.com/fortunelab/fortune-gateway/internal/models"
	"github.com/fortunelab/fortune-gateway/internal/services/database"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConversationNotFound is returned by AppendHistory when the conversation
// id resolves to no stored entry.
var ErrConversationNotFound = errors.New("conversation not found")

// Store is the persistence contract for fortune cache entries. Lookups that
// find nothing return (nil, nil); only real store failures return an error.
type Store interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.FortuneCacheEntry, error)
	FindByConversationID(ctx context.Context, conversationID string) (*models.FortuneCacheEntry, error)
	// CreateIfAbsent inserts the entry unless one already exists for its
	// fingerprint; a losing duplicate writer is reported, not an error.
	CreateIfAbsent(ctx context.Context, entry *models.FortuneCacheEntry) (created bool, err error)
	// AppendHistory atomically appends turns to the stored history,
	// re-reading the current row under lock so concurrent appenders from
	// different tabs cannot lose each other's turns.
	AppendHistory(ctx context.Context, conversationID string, turns ...models.Turn) error
}

// GormStore persists cache entries through the gateway database.
type GormStore struct {
	db *database.DB
}

// NewGormStore creates a store over the given database.
func NewGormStore(db *database.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.FortuneCacheEntry, error) {
	var entry models.FortuneCacheEntry
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewPersistenceError("fingerprint lookup failed", err)
	}
	return &entry, nil
}

func (s *GormStore) FindByConversationID(ctx context.Context, conversationID string) (*models.FortuneCacheEntry, error) {
	var entry models.FortuneCacheEntry
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewPersistenceError("conversation lookup failed", err)
	}
	return &entry, nil
}

func (s *GormStore) CreateIfAbsent(ctx context.Context, entry *models.FortuneCacheEntry) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, models.NewPersistenceError("cache entry create failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) AppendHistory(ctx context.Context, conversationID string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.FortuneCacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ?", conversationID).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		entry.History = append(entry.History, turns...)
		return tx.Model(&entry).Update("history", entry.History).Error
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return err
		}
		return models.NewPersistenceError("history append failed", err)
	}
	return nil
}
