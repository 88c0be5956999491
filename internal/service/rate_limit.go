package service

import (
	"context"
	"fmt"
	"time"

	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type RateLimitService interface {
	// CheckSend возвращает ErrRateLimited, если участник превысил лимит отправки
	CheckSend(ctx context.Context, participantID string) error
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	perMinute     int
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, perMinute int, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		perMinute:     perMinute,
		log:           log,
	}
}

func (s *rateLimitService) CheckSend(ctx context.Context, participantID string) error {
	allowed, err := s.rateLimitRepo.Allow(ctx, "send:"+participantID, s.perMinute, time.Minute)
	if err != nil {
		// лимитер недоступен - не блокируем чат
		s.log.Warn("Rate limit check failed, allowing", "error", err, "participant_id", participantID)
		return nil
	}
	if !allowed {
		return fmt.Errorf("participant %s: %w", participantID, apperrors.ErrRateLimited)
	}
	return nil
}
