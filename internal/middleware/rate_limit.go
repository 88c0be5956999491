package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitRepo repository.RateLimitRepository
	perMinute     int
	log           logger.Logger
}

func NewRateLimitMiddleware(rateLimitRepo repository.RateLimitRepository, perMinute int, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitRepo: rateLimitRepo,
		perMinute:     perMinute,
		log:           log,
	}
}

// Limit ограничивает число запросов с одного IP в минуту
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.perMinute <= 0 {
			c.Next()
			return
		}

		allowed, err := m.rateLimitRepo.Allow(c.Request.Context(), "api:"+c.ClientIP(), m.perMinute, time.Minute)
		if err != nil {
			// лимитер недоступен - пропускаем запрос
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.perMinute))
		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errors.UserMessage(errors.ErrRateLimited)})
			return
		}
		c.Next()
	}
}
