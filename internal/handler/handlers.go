package handler

import (
	"matrimony_chat/internal/config"
	"matrimony_chat/internal/repository"
	"matrimony_chat/internal/service"
	"matrimony_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	Chat      *ChatHandler
	Room      *RoomHandler
	Like      *LikeHandler
	Profile   *ProfileHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(cfg, services.Sessions),
		Auth:      NewAuthHandler(repos.Identity, log),
		Chat:      NewChatHandler(services.Sessions, services.Audit, log),
		Room:      NewRoomHandler(services.Rooms, services.Sessions, log),
		Like:      NewLikeHandler(services.Likes, log),
		Profile:   NewProfileHandler(services.ProfileSync, log),
		WebSocket: NewWebSocketHandler(services.Sessions, cfg.Server.AllowedOrigins, log),
	}
}
