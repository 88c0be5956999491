package service

import (
	"context"
	"fmt"
	"testing"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/logger"
)

func TestRecentsBounded(t *testing.T) {
	ctx := context.Background()
	c := NewRecentsCache(repository.NewMemoryLocalStore(), 25, logger.Nop())

	for i := 0; i < 30; i++ {
		target := domain.Target{To: fmt.Sprintf("user%d", i), Name: fmt.Sprintf("User %d", i)}
		if err := c.Upsert(ctx, target, domain.RecentPatch{UpdatedAtMs: int64(1000 + i)}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	items, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 25 {
		t.Fatalf("len = %d, want 25", len(items))
	}
	if items[0].To != "user29" || items[24].To != "user5" {
		t.Fatalf("unexpected order: first=%s last=%s", items[0].To, items[24].To)
	}
}

func TestRecentsMoveToFrontKeepsPreview(t *testing.T) {
	ctx := context.Background()
	c := NewRecentsCache(repository.NewMemoryLocalStore(), 25, logger.Nop())

	preview := "You: hello"
	_ = c.Upsert(ctx, domain.Target{To: "Bob.Smith", Name: "Bob"}, domain.RecentPatch{Preview: &preview})
	_ = c.Upsert(ctx, domain.Target{To: "carol", Name: "Carol"}, domain.RecentPatch{})
	// тот же ключ в другом регистре и с другой пунктуацией
	_ = c.Upsert(ctx, domain.Target{To: "bob_smith", Name: "Bob"}, domain.RecentPatch{})

	items, _ := c.List(ctx)
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(items), items)
	}
	if items[0].Name != "Bob" || items[0].Preview != preview {
		t.Fatalf("front entry = %+v", items[0])
	}
	if items[0].UpdatedAtMs == 0 {
		t.Fatal("updatedAt must default to now")
	}
}

func TestRecentsIgnoresEmptyTarget(t *testing.T) {
	ctx := context.Background()
	c := NewRecentsCache(repository.NewMemoryLocalStore(), 25, logger.Nop())
	if err := c.Upsert(ctx, domain.Target{}, domain.RecentPatch{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	items, _ := c.List(ctx)
	if len(items) != 0 {
		t.Fatalf("expected no entries, got %+v", items)
	}
}

func TestRecentsSurvivesMalformedCache(t *testing.T) {
	ctx := context.Background()
	local := repository.NewMemoryLocalStore()
	_ = local.Set(ctx, RecentsKey, "{not json")
	c := NewRecentsCache(local, 25, logger.Nop())

	items, err := c.List(ctx)
	if err != nil || len(items) != 0 {
		t.Fatalf("List = %v, %v", items, err)
	}
}
