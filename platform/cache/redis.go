package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"estatecrm_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the Redis-backed Store implementation. Values are stored
// as JSON with a per-entry TTL.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	log        *logger.Logger

	hookMu sync.RWMutex
	hooks  []InvalidationHook
}

// NewRedisStore creates a Store backed by the given Redis client.
// defaultTTL bounds staleness for entries that are never invalidated.
func NewRedisStore(client *redis.Client, defaultTTL time.Duration, log *logger.Logger) *RedisStore {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &RedisStore{
		client:     client,
		defaultTTL: defaultTTL,
		log:        log,
	}
}

// Get unmarshals the cached value for key into dest.
func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		if s.log != nil {
			s.log.CacheEvent("miss", key)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	if s.log != nil {
		s.log.CacheEvent("hit", key)
	}
	return true, nil
}

// Set stores value under key with the default TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Invalidate removes the given keys eagerly and fires hooks.
func (s *RedisStore) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	if s.log != nil {
		for _, k := range keys {
			s.log.CacheEvent("invalidate", k)
		}
	}
	s.fireHooks(keys)
	return nil
}

// InvalidatePrefix removes every key sharing the given prefix using SCAN,
// then fires hooks with the matched keys.
func (s *RedisStore) InvalidatePrefix(ctx context.Context, prefix string) error {
	var (
		cursor  uint64
		matched []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		matched = append(matched, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(matched) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, matched...).Err(); err != nil {
		return err
	}
	if s.log != nil {
		s.log.CacheEvent("invalidate_prefix", prefix)
	}
	s.fireHooks(matched)
	return nil
}

// OnInvalidate registers a hook fired after every invalidation.
func (s *RedisStore) OnInvalidate(hook InvalidationHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *RedisStore) fireHooks(keys []string) {
	s.hookMu.RLock()
	hooks := append([]InvalidationHook(nil), s.hooks...)
	s.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(keys)
	}
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
