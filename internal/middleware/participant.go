package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ParticipantHeader = "X-Participant-ID"
	// ParticipantQuery - для WebSocket: браузер не может задать заголовок при апгрейде
	ParticipantQuery = "participant_id"
	ParticipantKey   = "participant_id"
)

// ParticipantMiddleware проверяет наличие participant_id в заголовке X-Participant-ID
// Если нет - генерирует новый UUID и добавляет в контекст
func ParticipantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := c.GetHeader(ParticipantHeader)
		if participantID == "" {
			participantID = c.Query(ParticipantQuery)
		}

		// Невалидный UUID заменяем новым
		if participantID != "" {
			if _, err := uuid.Parse(participantID); err != nil {
				participantID = ""
			}
		}
		if participantID == "" {
			participantID = uuid.New().String()
		}

		c.Set(ParticipantKey, participantID)
		c.Header(ParticipantHeader, participantID)

		c.Next()
	}
}

// ParticipantID - идентификатор сессии, выставленный ParticipantMiddleware
func ParticipantID(c *gin.Context) string {
	return c.GetString(ParticipantKey)
}
