package service

import (
	"context"
	"sync"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/pkg/logger"
)

// SessionRegistry хранит сессии чата по идентификатору участника
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession
	deps     SessionDeps
	log      logger.Logger

	bootstrapOnce sync.Once
}

func NewSessionRegistry(deps SessionDeps, log logger.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*ChatSession),
		deps:     deps,
		log:      log,
	}
}

// Get возвращает сессию участника, создавая ее при первом обращении
func (r *SessionRegistry) Get(ctx context.Context, sessionID string) *ChatSession {
	r.bootstrapGlobalRoom(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		return s
	}
	s := NewChatSession(sessionID, r.deps)
	r.sessions[sessionID] = s
	r.log.Debug("Chat session created", "session_id", sessionID)
	return s
}

// Lookup - сессия без создания
func (r *SessionRegistry) Lookup(sessionID string) (*ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*ChatSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.log.Info("Chat sessions closed", "count", len(sessions))
}

// bootstrapGlobalRoom создает общую комнату при первом обращении к чату
func (r *SessionRegistry) bootstrapGlobalRoom(ctx context.Context) {
	r.bootstrapOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.deps.Rooms.EnsureRoom(ctx, domain.GlobalRoomID, domain.GlobalRoomName, nil); err != nil {
			r.log.Warn("Failed to bootstrap global room", "error", err)
		}
	})
}
