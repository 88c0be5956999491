package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/service"
	"matrimony_chat/pkg/logger"
)

type LikeHandler struct {
	likeService service.LikeService
	log         logger.Logger
}

func NewLikeHandler(likeService service.LikeService, log logger.Logger) *LikeHandler {
	return &LikeHandler{
		likeService: likeService,
		log:         log,
	}
}

func (h *LikeHandler) Get(c *gin.Context) {
	state, err := h.likeService.Get(c.Request.Context(), middleware.ParticipantID(c), c.Param("profile"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *LikeHandler) Toggle(c *gin.Context) {
	state, err := h.likeService.Toggle(c.Request.Context(), middleware.ParticipantID(c), c.Param("profile"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, state)
}
