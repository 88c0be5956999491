package service

import (
	"context"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/logger"
)

type AuditService interface {
	LogEvent(ctx context.Context, actor, roomID, eventType string, payload map[string]interface{}) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]*domain.AuditLog, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
	log       logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, log logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		log:       log,
	}
}

func (s *auditService) LogEvent(ctx context.Context, actor, roomID, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	auditLog := &domain.AuditLog{
		EventTime: time.Now().UTC(),
		Actor:     actor,
		RoomID:    roomID,
		EventType: eventType,
		Payload:   payload,
	}

	return s.auditRepo.CreateLog(ctx, auditLog)
}

func (s *auditService) ListByRoom(ctx context.Context, roomID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.auditRepo.ListByRoom(ctx, roomID, limit)
}
