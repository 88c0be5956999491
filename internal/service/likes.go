package service

import (
	"context"
	"encoding/json"
	"sync"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type LikeService interface {
	Get(ctx context.Context, sessionID, profile string) (domain.LikeState, error)
	// Toggle ставит или снимает лайк профиля и возвращает новое состояние
	Toggle(ctx context.Context, sessionID, profile string) (domain.LikeState, error)
}

type likeService struct {
	mu    sync.Mutex
	local repository.LocalStoreFactory
	log   logger.Logger
}

func NewLikeService(local repository.LocalStoreFactory, log logger.Logger) LikeService {
	return &likeService{local: local, log: log}
}

func likeSlug(profile string) string {
	return normalize.SafeToken(profile)
}

func (s *likeService) Get(ctx context.Context, sessionID, profile string) (domain.LikeState, error) {
	if normalize.Identity(profile) == "" {
		return domain.LikeState{}, apperrors.NewValidationError("Profile is required.")
	}
	slug := likeSlug(profile)
	likes, err := s.read(ctx, sessionID)
	if err != nil {
		return domain.LikeState{}, err
	}
	state := likes[slug]
	state.Slug = slug
	return state, nil
}

func (s *likeService) Toggle(ctx context.Context, sessionID, profile string) (domain.LikeState, error) {
	if normalize.Identity(profile) == "" {
		return domain.LikeState{}, apperrors.NewValidationError("Profile is required.")
	}
	slug := likeSlug(profile)

	s.mu.Lock()
	defer s.mu.Unlock()

	likes, err := s.read(ctx, sessionID)
	if err != nil {
		return domain.LikeState{}, err
	}

	state := likes[slug]
	state.Slug = slug
	if state.Liked {
		state.Liked = false
		if state.Count > 0 {
			state.Count--
		}
	} else {
		state.Liked = true
		state.Count++
	}
	likes[slug] = state

	raw, err := json.Marshal(likes)
	if err != nil {
		return domain.LikeState{}, err
	}
	if err := s.local.For(sessionID).Set(ctx, LikesKey, string(raw)); err != nil {
		s.log.Error("Failed to save likes", "error", err, "session_id", sessionID)
		return domain.LikeState{}, err
	}
	return state, nil
}

func (s *likeService) read(ctx context.Context, sessionID string) (map[string]domain.LikeState, error) {
	raw, ok, err := s.local.For(sessionID).Get(ctx, LikesKey)
	if err != nil {
		return nil, err
	}
	likes := map[string]domain.LikeState{}
	if !ok || raw == "" {
		return likes, nil
	}
	if err := json.Unmarshal([]byte(raw), &likes); err != nil {
		s.log.Warn("Discarding malformed likes", "error", err, "session_id", sessionID)
		return map[string]domain.LikeState{}, nil
	}
	return likes, nil
}
