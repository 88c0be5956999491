package service

import (
	"time"

	"matrimony_chat/internal/config"
	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/logger"
)

type Services struct {
	Rooms       RoomService
	Feed        FeedService
	Audit       AuditService
	RateLimit   RateLimitService
	Likes       LikeService
	ProfileSync ProfileSyncService
	Contacts    *ContactDirectory
	Sessions    *SessionRegistry
}

func NewServices(repos *repository.Repositories, contacts *ContactDirectory, cfg *config.Config, log logger.Logger) *Services {
	rooms := NewRoomService(repos.Documents, cfg.Chat.PreviewLimit, log)
	feed := NewFeedService(repos.Documents, rooms, cfg.Chat.FeedLimit, cfg.Chat.AutoReplyDelay, log)
	audit := NewAuditService(repos.Audit, log)
	rateLimit := NewRateLimitService(repos.RateLimit, cfg.RateLimit.SendPerMinute, log)

	services := &Services{
		Rooms:       rooms,
		Feed:        feed,
		Audit:       audit,
		RateLimit:   rateLimit,
		Likes:       NewLikeService(repos.Local, log),
		ProfileSync: NewProfileSyncService(repos.Documents, repos.Local, repos.Identity, audit, cfg.Chat.IdentityWait, log),
		Contacts:    contacts,
	}

	services.Sessions = NewSessionRegistry(SessionDeps{
		Rooms:     rooms,
		Feed:      feed,
		Audit:     audit,
		RateLimit: rateLimit,
		Contacts:  contacts,
		Auth:      repos.Identity,
		Local:     repos.Local,
		Chat:      cfg.Chat,
		Location:  time.Local,
		Log:       log,
	}, log)

	log.Info("Chat services initialized", "contacts", contacts.Len())
	return services
}
