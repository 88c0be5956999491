package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/service"
	"matrimony_chat/pkg/logger"
)

type RoomHandler struct {
	roomService service.RoomService
	sessions    *service.SessionRegistry
	log         logger.Logger
}

func NewRoomHandler(roomService service.RoomService, sessions *service.SessionRegistry, log logger.Logger) *RoomHandler {
	return &RoomHandler{
		roomService: roomService,
		sessions:    sessions,
		log:         log,
	}
}

// List - комнаты участника для сайдбара; общая комната всегда первая
func (h *RoomHandler) List(c *gin.Context) {
	session := h.sessions.Get(c.Request.Context(), middleware.ParticipantID(c))
	identity := session.Identity().Get(c.Request.Context())

	rooms, err := h.roomService.ListRooms(c.Request.Context(), identity)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}
