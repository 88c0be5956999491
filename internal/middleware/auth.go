package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	"matrimony_chat/pkg/logger"
)

// AuthClaims - claims внешнего сервиса авторизации: user_id, email и display_name
type AuthClaims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// AuthMiddleware валидирует JWT и публикует пользователя в IdentityStore сессии
type AuthMiddleware struct {
	jwtSecret []byte
	issuer    string
	identity  repository.IdentityStore
	log       logger.Logger
}

func NewAuthMiddleware(jwtSecret, issuer string, identity repository.IdentityStore, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		identity:  identity,
		log:       log,
	}
}

// OptionalAuth проверяет токен если он есть, но не требует его.
// Чат работает и без входа: identity тогда задает сам участник
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.jwtSecret) == 0 {
			c.Next()
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		claims, err := m.parseToken(tokenString)
		if err != nil {
			m.log.Debug("Ignoring invalid token", "error", err)
			c.Next()
			return
		}

		m.publish(ParticipantID(c), claims)
		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}

// RequireAuth требует валидный JWT токен
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := m.parseToken(tokenString)
		if err != nil {
			m.log.Warn("Token validation failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		m.publish(ParticipantID(c), claims)
		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Next()
	}
}

// SignOut сбрасывает пользователя авторизации сессии
func (m *AuthMiddleware) SignOut(participantID string) {
	if participantID == "" {
		return
	}
	m.identity.Publish(participantID, nil)
}

// publish уведомляет подписчиков только при смене пользователя
func (m *AuthMiddleware) publish(participantID string, claims *AuthClaims) {
	if participantID == "" {
		return
	}
	next := &domain.AuthIdentity{
		UID:         claims.UserID,
		DisplayName: strings.TrimSpace(claims.DisplayName),
		Email:       strings.TrimSpace(claims.Email),
	}
	if current, ok := m.identity.CurrentIdentity(participantID); ok && *current == *next {
		return
	}
	m.identity.Publish(participantID, next)
	m.log.Debug("Auth identity published", "participant_id", participantID, "user_id", next.UID)
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// parseToken парсит и валидирует JWT токен
func (m *AuthMiddleware) parseToken(tokenString string) (*AuthClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
