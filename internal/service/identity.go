package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

// Ключи локального хранилища сессии
const (
	IdentityKey     = "vivah_chat_identity"
	NameKey         = "vivah_name"
	UsernameKey     = "vivah_username"
	CachedAuthKey   = "vivah_auth_user"
	RecentsKey      = "vivah_chat_recents_v1"
	PendingSyncKey  = "vivah_paymentPrefill"
	LikesKey        = "vivah_likes_v1"
	defaultAuthWait = 1500 * time.Millisecond
)

// IdentityResolver определяет, от чьего имени пишет сессия
type IdentityResolver struct {
	sessionID string
	local     repository.LocalStore
	auth      repository.IdentityStore
	wait      time.Duration
	log       logger.Logger
}

func NewIdentityResolver(sessionID string, local repository.LocalStore, auth repository.IdentityStore, wait time.Duration, log logger.Logger) *IdentityResolver {
	if wait <= 0 {
		wait = defaultAuthWait
	}
	return &IdentityResolver{
		sessionID: sessionID,
		local:     local,
		auth:      auth,
		wait:      wait,
		log:       log,
	}
}

// Get: явно заданное имя, затем имя и username профиля, затем закэшированный пользователь авторизации.
// Пустая строка - identity нет
func (r *IdentityResolver) Get(ctx context.Context) string {
	for _, key := range []string{IdentityKey, NameKey, UsernameKey} {
		v, ok, err := r.local.Get(ctx, key)
		if err != nil {
			r.log.Warn("Failed to read identity key", "error", err, "key", key, "session_id", r.sessionID)
			continue
		}
		if v = strings.TrimSpace(v); ok && v != "" {
			return v
		}
	}

	if cached := r.cachedAuthUser(ctx); cached != nil {
		if name := cached.ChatName(); name != "" {
			return name
		}
	}

	if r.auth != nil {
		if current, ok := r.auth.CurrentIdentity(r.sessionID); ok {
			r.CacheAuthUser(ctx, current)
			return current.ChatName()
		}
	}

	return ""
}

// Set сохраняет имя, которое перекрывает все остальные источники
func (r *IdentityResolver) Set(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return apperrors.NewValidationError("Username/email cannot be empty.")
	}
	if err := r.local.Set(ctx, IdentityKey, value); err != nil {
		return err
	}
	r.log.Info("Chat identity set", "session_id", r.sessionID, "identity", normalize.Identity(value))
	return nil
}

func (r *IdentityResolver) NeedsIdentity(ctx context.Context) bool {
	return r.Get(ctx) == ""
}

// CacheAuthUser запоминает пользователя авторизации как последний источник identity
func (r *IdentityResolver) CacheAuthUser(ctx context.Context, user *domain.AuthIdentity) {
	if user == nil {
		if err := r.local.Remove(ctx, CachedAuthKey); err != nil {
			r.log.Warn("Failed to clear cached auth user", "error", err, "session_id", r.sessionID)
		}
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := r.local.Set(ctx, CachedAuthKey, string(raw)); err != nil {
		r.log.Warn("Failed to cache auth user", "error", err, "session_id", r.sessionID)
	}
}

func (r *IdentityResolver) cachedAuthUser(ctx context.Context) *domain.AuthIdentity {
	raw, ok, err := r.local.Get(ctx, CachedAuthKey)
	if err != nil || !ok || raw == "" {
		return nil
	}
	var user domain.AuthIdentity
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		r.log.Warn("Malformed cached auth user", "error", err, "session_id", r.sessionID)
		return nil
	}
	return &user
}

// AwaitAuthIdentity ждет пользователя авторизации не дольше wait. По таймауту - nil без ошибки
func (r *IdentityResolver) AwaitAuthIdentity(ctx context.Context) (*domain.AuthIdentity, error) {
	if r.auth == nil {
		return nil, nil
	}
	if current, ok := r.auth.CurrentIdentity(r.sessionID); ok {
		return current, nil
	}

	found := make(chan *domain.AuthIdentity, 1)
	cancel := r.auth.OnIdentityChange(r.sessionID, func(user *domain.AuthIdentity) {
		if user == nil {
			return
		}
		select {
		case found <- user:
		default:
		}
	})
	defer cancel()

	// публикация могла случиться между проверкой и подпиской
	if current, ok := r.auth.CurrentIdentity(r.sessionID); ok {
		return current, nil
	}

	timer := time.NewTimer(r.wait)
	defer timer.Stop()

	select {
	case user := <-found:
		return user, nil
	case <-timer.C:
		if current, ok := r.auth.CurrentIdentity(r.sessionID); ok {
			return current, nil
		}
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
