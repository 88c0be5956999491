package service

import (
	"context"
	"errors"
	"testing"

	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

func TestLikeToggle(t *testing.T) {
	ctx := context.Background()
	svc := NewLikeService(repository.NewMemoryLocalFactory(), logger.Nop())

	state, err := svc.Toggle(ctx, "p1", "Priya Sharma")
	if err != nil || !state.Liked || state.Count != 1 || state.Slug != "priya_sharma" {
		t.Fatalf("first toggle = %+v, %v", state, err)
	}
	state, _ = svc.Toggle(ctx, "p1", "priya sharma")
	if state.Liked || state.Count != 0 {
		t.Fatalf("second toggle = %+v", state)
	}

	_, _ = svc.Toggle(ctx, "p1", "Priya Sharma")
	other, _ := svc.Get(ctx, "p2", "Priya Sharma")
	if other.Liked || other.Count != 0 {
		t.Fatalf("likes leaked between sessions: %+v", other)
	}
	mine, _ := svc.Get(ctx, "p1", "Priya Sharma")
	if !mine.Liked {
		t.Fatalf("Get = %+v", mine)
	}

	if _, err := svc.Toggle(ctx, "p1", " "); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("blank profile: %v", err)
	}
}
