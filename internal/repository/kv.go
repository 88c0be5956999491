package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"matrimony_chat/pkg/logger"
)

// LocalStore - персистентное key-value хранилище одной сессии (аналог localStorage)
type LocalStore interface {
	// Get возвращает ok=false, если ключа нет
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// LocalStoreFactory выдает LocalStore по идентификатору сессии
type LocalStoreFactory interface {
	For(sessionID string) LocalStore
}

type memoryLocalFactory struct {
	mu       sync.Mutex
	sessions map[string]*memoryLocalStore
}

func NewMemoryLocalFactory() LocalStoreFactory {
	return &memoryLocalFactory{sessions: make(map[string]*memoryLocalStore)}
}

func (f *memoryLocalFactory) For(sessionID string) LocalStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		s = &memoryLocalStore{values: make(map[string]string)}
		f.sessions[sessionID] = s
	}
	return s
}

type memoryLocalStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryLocalStore - отдельное хранилище без фабрики (для тестов)
func NewMemoryLocalStore() LocalStore {
	return &memoryLocalStore{values: make(map[string]string)}
}

func (s *memoryLocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memoryLocalStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryLocalStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

const SessionKeyPrefix = "session:%s"

type redisLocalFactory struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

// NewRedisLocalFactory хранит данные сессии в hash session:{id}; TTL продлевается при записи
func NewRedisLocalFactory(rdb *redis.Client, ttl time.Duration, log logger.Logger) LocalStoreFactory {
	return &redisLocalFactory{rdb: rdb, ttl: ttl, log: log}
}

func (f *redisLocalFactory) For(sessionID string) LocalStore {
	return &redisLocalStore{
		rdb: f.rdb,
		key: fmt.Sprintf(SessionKeyPrefix, sessionID),
		ttl: f.ttl,
		log: f.log,
	}
}

type redisLocalStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log logger.Logger
}

func (s *redisLocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.log.Error("Failed to read session value", "error", err, "key", key)
		return "", false, mapRedisError(err)
	}
	return v, true, nil
}

func (s *redisLocalStore) Set(ctx context.Context, key, value string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		s.log.Error("Failed to write session value", "error", err, "key", key)
		return mapRedisError(err)
	}
	return nil
}

func (s *redisLocalStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.HDel(ctx, s.key, key).Err(); err != nil {
		s.log.Error("Failed to remove session value", "error", err, "key", key)
		return mapRedisError(err)
	}
	return nil
}
