package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fortunelab/fortune-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "fortune:entry:"
	redisEntryTTL  = 24 * time.Hour
)

// RedisStore layers a read-through Redis cache over another Store. Only
// fingerprint lookups are cached; the cached copy is dropped whenever the
// entry's history changes so continuation reads stay current.
type RedisStore struct {
	inner  Store
	client *redis.Client
}

// NewRedisStore wraps inner with a Redis read-through layer.
func NewRedisStore(inner Store, client *redis.Client) *RedisStore {
	return &RedisStore{inner: inner, client: client}
}

func (s *RedisStore) FindByFingerprint(ctx context.Context, fingerprint string) (*models.FortuneCacheEntry, error) {
	key := redisKeyPrefix + fingerprint

	if data, err := s.client.Get(ctx, key).Bytes(); err == nil {
		var entry models.FortuneCacheEntry
		if err := json.Unmarshal(data, &entry); err == nil {
			return &entry, nil
		}
		// Corrupt payload, fall through to the database.
		s.client.Del(ctx, key)
	}

	entry, err := s.inner.FindByFingerprint(ctx, fingerprint)
	if err != nil || entry == nil {
		return entry, err
	}

	s.populate(ctx, entry)
	return entry, nil
}

func (s *RedisStore) FindByConversationID(ctx context.Context, conversationID string) (*models.FortuneCacheEntry, error) {
	return s.inner.FindByConversationID(ctx, conversationID)
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, entry *models.FortuneCacheEntry) (bool, error) {
	created, err := s.inner.CreateIfAbsent(ctx, entry)
	if err == nil && created {
		s.populate(ctx, entry)
	}
	return created, err
}

func (s *RedisStore) AppendHistory(ctx context.Context, conversationID string, turns ...models.Turn) error {
	if err := s.inner.AppendHistory(ctx, conversationID, turns...); err != nil {
		return err
	}
	s.invalidate(ctx, conversationID)
	return nil
}

func (s *RedisStore) populate(ctx context.Context, entry *models.FortuneCacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, redisKeyPrefix+entry.Fingerprint, data, redisEntryTTL).Err(); err != nil {
		fiberlog.Debugf("redis populate failed for %s: %v", entry.ConversationID, err)
	}
}

func (s *RedisStore) invalidate(ctx context.Context, conversationID string) {
	entry, err := s.inner.FindByConversationID(ctx, conversationID)
	if err != nil || entry == nil {
		return
	}
	if err := s.client.Del(ctx, redisKeyPrefix+entry.Fingerprint).Err(); err != nil {
		fiberlog.Debugf("redis invalidate failed for %s: %v", conversationID, err)
	}
}
