package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"matrimony_chat/pkg/logger"
)

// RateLimitRepository считает события по ключу в пределах окна
type RateLimitRepository interface {
	// Allow учитывает событие и сообщает, укладывается ли оно в лимит
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Close() error
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

// NewRateLimitRepository - счетчик INCR с TTL окна, общий для всех инстансов
func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err, "key", key)
		return false, mapRedisError(err)
	}

	if count == 1 {
		if err := r.redis.Expire(ctx, redisKey, window).Err(); err != nil {
			r.log.Warn("Failed to set rate limit window", "error", err, "key", key)
		}
	}

	return count <= int64(limit), nil
}

func (r *rateLimitRepository) Close() error {
	return nil
}

// memoryRateLimitRepository - token bucket на ключ, для одного процесса
type memoryRateLimitRepository struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	stopCh   chan struct{}
	once     sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryRateLimitRepository(cleanupInterval time.Duration) RateLimitRepository {
	r := &memoryRateLimitRepository{
		limiters: make(map[string]*limiterEntry),
		stopCh:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go r.cleanupLoop(cleanupInterval)
	}
	return r
}

func (r *memoryRateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	return r.limiter(key, limit, window).Allow(), nil
}

func (r *memoryRateLimitRepository) limiter(key string, limit int, window time.Duration) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.limiters[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	l := rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
	r.limiters[key] = &limiterEntry{limiter: l, lastSeen: time.Now()}
	return l
}

func (r *memoryRateLimitRepository) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			r.mu.Lock()
			for k, e := range r.limiters {
				if e.lastSeen.Before(cutoff) {
					delete(r.limiters, k)
				}
			}
			r.mu.Unlock()
		case <-r.stopCh:
			return
		}
	}
}

func (r *memoryRateLimitRepository) Close() error {
	r.once.Do(func() { close(r.stopCh) })
	return nil
}
