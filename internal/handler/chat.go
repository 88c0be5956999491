package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/service"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type ChatHandler struct {
	sessions *service.SessionRegistry
	audit    service.AuditService
	log      logger.Logger
}

func NewChatHandler(sessions *service.SessionRegistry, audit service.AuditService, log logger.Logger) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		audit:    audit,
		log:      log,
	}
}

func (h *ChatHandler) session(c *gin.Context) *service.ChatSession {
	return h.sessions.Get(c.Request.Context(), middleware.ParticipantID(c))
}

func (h *ChatHandler) GetIdentity(c *gin.Context) {
	identity := h.session(c).Identity().Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"identity":      identity,
		"needsIdentity": identity == "",
	})
}

type SetIdentityRequest struct {
	Identity string `json:"identity"`
}

// SetIdentity сохраняет имя и заново открывает текущую (или отложенную) комнату
func (h *ChatHandler) SetIdentity(c *gin.Context) {
	var req SetIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("Invalid request body."))
		return
	}

	session := h.session(c)
	room, err := session.SetIdentity(c.Request.Context(), req.Identity)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identity": session.Identity().Get(c.Request.Context()),
		"room":     room,
	})
}

type OpenRoomRequest struct {
	To     string `json:"to"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// OpenRoom - аналог перехода по ссылке chat?to=&name=&gender=; пустая цель - общая комната
func (h *ChatHandler) OpenRoom(c *gin.Context) {
	var req OpenRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewValidationError("Invalid request body."))
			return
		}
	}

	var target *domain.Target
	if req.To != "" || req.Name != "" {
		target = &domain.Target{To: req.To, Name: req.Name, Gender: req.Gender}
	}

	session := h.session(c)
	if _, err := session.OpenRoom(c.Request.Context(), target); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, session.State(c.Request.Context()))
}

func (h *ChatHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.session(c).State(c.Request.Context()))
}

type SendChatMessageRequest struct {
	Text string `json:"text"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("Invalid request body."))
		return
	}

	message, err := h.session(c).Send(c.Request.Context(), req.Text)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *ChatHandler) UnsendMessage(c *gin.Context) {
	if err := h.session(c).Unsend(c.Request.Context(), c.Param("messageId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message unsent"})
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	if err := h.session(c).Delete(c.Request.Context(), c.Param("messageId")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted"})
}

// ClearRoom удаляет все сообщения текущей комнаты
func (h *ChatHandler) ClearRoom(c *gin.Context) {
	deleted, err := h.session(c).DeleteAll(c.Request.Context())
	if err != nil {
		h.log.Warn("Room clear incomplete", "error", err, "deleted", deleted)
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{
			"error":   apperrors.UserMessage(err),
			"deleted": deleted,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *ChatHandler) GetRecents(c *gin.Context) {
	recents, err := h.session(c).Recents().List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, recents)
}

// GetAudit - журнал удалений в текущей комнате
func (h *ChatHandler) GetAudit(c *gin.Context) {
	room := h.session(c).State(c.Request.Context()).Room
	logs, err := h.audit.ListByRoom(c.Request.Context(), room.RoomID, 50)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
