package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/middleware"
	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/logger"
)

type AuthHandler struct {
	identity repository.IdentityStore
	log      logger.Logger
}

func NewAuthHandler(identity repository.IdentityStore, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		log:      log,
	}
}

// Me - пользователь авторизации, известный сессии
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := h.identity.CurrentIdentity(middleware.ParticipantID(c))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"signedIn": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signedIn": true,
		"user":     user,
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	participantID := middleware.ParticipantID(c)
	h.identity.Publish(participantID, nil)
	h.log.Info("Participant signed out", "participant_id", participantID)
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}
