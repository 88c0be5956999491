package middleware

import (
	"github.com/gin-gonic/gin"

	"matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

// ErrorHandler превращает ошибку из c.Error в JSON с текстом для баннера
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()

		statusCode := errors.HTTPStatusFromError(err.Err)
		if statusCode >= 500 {
			log.Error("Request failed", "error", err.Err, "path", c.FullPath())
		}

		c.JSON(statusCode, gin.H{
			"error": errors.UserMessage(err.Err),
		})
	}
}
