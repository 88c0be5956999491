package repository

import (
	"context"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/pkg/logger"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]*domain.AuditLog, error)
}

// auditRepository пишет журнал в ту же документную базу, что и чат
type auditRepository struct {
	store DocumentStore
	log   logger.Logger
}

func NewAuditRepository(store DocumentStore, log logger.Logger) AuditRepository {
	return &auditRepository{store: store, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	if auditLog.ID == "" {
		auditLog.ID = r.store.GenerateID(domain.CollectionAudit)
	}
	if auditLog.EventTime.IsZero() {
		auditLog.EventTime = time.Now().UTC()
	}

	data, err := Encode(auditLog)
	if err != nil {
		return err
	}
	data["eventTimeMs"] = auditLog.EventTime.UnixMilli()

	if err := r.store.Set(ctx, domain.CollectionAudit, auditLog.ID, data, SetOptions{}); err != nil {
		r.log.Error("Failed to create audit log", "error", err, "event_type", auditLog.EventType)
		return err
	}

	return nil
}

func (r *auditRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]*domain.AuditLog, error) {
	docs, err := r.store.Query(ctx, Query{
		Collection:    domain.CollectionAudit,
		EqualityField: "room_id",
		EqualityValue: roomID,
	})
	if err != nil {
		r.log.Error("Failed to list audit log", "error", err, "room_id", roomID)
		return nil, err
	}

	// сортировка на клиенте: составной индекс для журнала не заводим
	docs = applyQuery(docs, Query{OrderByField: "eventTimeMs", Descending: true, Limit: limit})

	logs := make([]*domain.AuditLog, 0, len(docs))
	for _, d := range docs {
		var entry domain.AuditLog
		if err := Decode(d, &entry); err != nil {
			r.log.Warn("Skipping malformed audit entry", "error", err, "id", d.ID)
			continue
		}
		logs = append(logs, &entry)
	}
	return logs, nil
}
