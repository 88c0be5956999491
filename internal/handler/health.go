package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/config"
	"matrimony_chat/internal/service"
)

type HealthHandler struct {
	storeDriver string
	sessions    *service.SessionRegistry
}

func NewHealthHandler(cfg *config.Config, sessions *service.SessionRegistry) *HealthHandler {
	return &HealthHandler{
		storeDriver: cfg.Store.Driver,
		sessions:    sessions,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "matrimony-chat",
	})
}

// ServerInfo возвращает информацию о сервере для клиентов
func (h *HealthHandler) ServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"store":    h.storeDriver,
		"sessions": h.sessions.Len(),
		"api_base": "/api/v1",
		"ws_path":  "/ws/chat",
	})
}
