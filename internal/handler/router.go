package handler

import (
	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/config"
	"matrimony_chat/internal/middleware"
	"matrimony_chat/pkg/logger"
)

func SetupRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins...))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	router.GET("/health", handlers.Health.Check)

	// Все остальное работает в рамках сессии участника (X-Participant-ID)
	session := router.Group("")
	session.Use(middleware.ParticipantMiddleware())
	session.Use(authMiddleware.OptionalAuth())

	session.GET("/server-info", handlers.Health.ServerInfo)

	v1 := session.Group("/api/v1")
	v1.Use(rateLimitMiddleware.Limit())
	{
		auth := v1.Group("/auth")
		{
			auth.GET("/me", handlers.Auth.Me)
			auth.POST("/logout", handlers.Auth.Logout)
		}

		chat := v1.Group("/chat")
		{
			chat.GET("/identity", handlers.Chat.GetIdentity)
			chat.PUT("/identity", handlers.Chat.SetIdentity)
			chat.POST("/room", handlers.Chat.OpenRoom)
			chat.GET("/state", handlers.Chat.GetState)
			chat.POST("/messages", handlers.Chat.SendMessage)
			chat.POST("/messages/:messageId/unsend", handlers.Chat.UnsendMessage)
			chat.DELETE("/messages/:messageId", handlers.Chat.DeleteMessage)
			chat.DELETE("/messages", handlers.Chat.ClearRoom)
			chat.GET("/recents", handlers.Chat.GetRecents)
			chat.GET("/audit", handlers.Chat.GetAudit)
			chat.GET("/rooms", handlers.Room.List)
		}

		likes := v1.Group("/likes")
		{
			likes.GET("/:profile", handlers.Like.Get)
			likes.POST("/:profile/toggle", handlers.Like.Toggle)
		}

		profile := v1.Group("/profile")
		{
			profile.POST("/payment-prefill", handlers.Profile.SetPaymentPrefill)
			profile.POST("/sync", handlers.Profile.Sync)
		}
	}

	// WebSocket endpoint для чата
	session.GET("/ws/chat", handlers.WebSocket.HandleChat)

	return router
}
