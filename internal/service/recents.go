package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/logger"
)

const defaultRecentsMax = 25

// RecentsCache - локальный список недавних собеседников, свежие первыми
type RecentsCache struct {
	mu    sync.Mutex
	local repository.LocalStore
	max   int
	now   func() time.Time
	log   logger.Logger
}

func NewRecentsCache(local repository.LocalStore, max int, log logger.Logger) *RecentsCache {
	if max <= 0 {
		max = defaultRecentsMax
	}
	return &RecentsCache{local: local, max: max, now: time.Now, log: log}
}

func recentKey(to, name string) string {
	if k := normalize.Key(to); k != "" {
		return k
	}
	return normalize.Key(name)
}

// Upsert переносит собеседника в начало списка, дополняя запись полями patch
func (c *RecentsCache) Upsert(ctx context.Context, target domain.Target, patch domain.RecentPatch) error {
	entry := domain.RecentContact{
		To:     strings.TrimSpace(target.To),
		Name:   target.DisplayName(),
		Gender: strings.ToLower(strings.TrimSpace(target.Gender)),
	}
	key := recentKey(entry.To, entry.Name)
	if key == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.read(ctx)
	if err != nil {
		return err
	}

	next := make([]domain.RecentContact, 0, len(items)+1)
	for _, item := range items {
		if recentKey(item.To, item.Name) == key {
			if entry.Preview == "" {
				entry.Preview = item.Preview
			}
			if entry.Gender == "" {
				entry.Gender = item.Gender
			}
			continue
		}
		next = append(next, item)
	}

	if patch.Preview != nil {
		entry.Preview = strings.TrimSpace(*patch.Preview)
	}
	entry.UpdatedAtMs = patch.UpdatedAtMs
	if entry.UpdatedAtMs <= 0 {
		entry.UpdatedAtMs = c.now().UnixMilli()
	}

	next = append([]domain.RecentContact{entry}, next...)
	if len(next) > c.max {
		next = next[:c.max]
	}
	return c.write(ctx, next)
}

// List возвращает сохраненный порядок без пересортировки
func (c *RecentsCache) List(ctx context.Context) ([]domain.RecentContact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(ctx)
}

func (c *RecentsCache) read(ctx context.Context) ([]domain.RecentContact, error) {
	raw, ok, err := c.local.Get(ctx, RecentsKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []domain.RecentContact{}, nil
	}

	var parsed []domain.RecentContact
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// испорченный кэш не должен ломать чат
		c.log.Warn("Discarding malformed recents cache", "error", err)
		return []domain.RecentContact{}, nil
	}

	items := make([]domain.RecentContact, 0, len(parsed))
	for _, item := range parsed {
		item.To = strings.TrimSpace(item.To)
		item.Name = strings.TrimSpace(item.Name)
		item.Gender = strings.ToLower(strings.TrimSpace(item.Gender))
		if item.To == "" && item.Name == "" {
			continue
		}
		items = append(items, item)
		if len(items) == c.max {
			break
		}
	}
	return items, nil
}

func (c *RecentsCache) write(ctx context.Context, items []domain.RecentContact) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return c.local.Set(ctx, RecentsKey, string(raw))
}
