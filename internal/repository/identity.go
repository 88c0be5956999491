package repository

import (
	"sync"

	"matrimony_chat/internal/domain"
)

// IdentityStore - состояние авторизации по сессиям и подписка на его изменения
type IdentityStore interface {
	CurrentIdentity(sessionID string) (*domain.AuthIdentity, bool)
	// OnIdentityChange вызывает fn при каждой публикации; возвращает отписку
	OnIdentityChange(sessionID string, fn func(*domain.AuthIdentity)) func()
	// Publish сохраняет identity (nil - выход) и уведомляет подписчиков
	Publish(sessionID string, identity *domain.AuthIdentity)
}

type identityStore struct {
	mu        sync.Mutex
	current   map[string]*domain.AuthIdentity
	listeners map[string]map[int]func(*domain.AuthIdentity)
	nextID    int
}

func NewIdentityStore() IdentityStore {
	return &identityStore{
		current:   make(map[string]*domain.AuthIdentity),
		listeners: make(map[string]map[int]func(*domain.AuthIdentity)),
	}
}

func (s *identityStore) CurrentIdentity(sessionID string) (*domain.AuthIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[sessionID]
	if !ok || id == nil {
		return nil, false
	}
	cp := *id
	return &cp, true
}

func (s *identityStore) OnIdentityChange(sessionID string, fn func(*domain.AuthIdentity)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.listeners[sessionID] == nil {
		s.listeners[sessionID] = make(map[int]func(*domain.AuthIdentity))
	}
	s.listeners[sessionID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners[sessionID], id)
			if len(s.listeners[sessionID]) == 0 {
				delete(s.listeners, sessionID)
			}
		})
	}
}

func (s *identityStore) Publish(sessionID string, identity *domain.AuthIdentity) {
	s.mu.Lock()
	if identity == nil {
		delete(s.current, sessionID)
	} else {
		cp := *identity
		s.current[sessionID] = &cp
	}
	fns := make([]func(*domain.AuthIdentity), 0, len(s.listeners[sessionID]))
	for _, fn := range s.listeners[sessionID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	// слушатели вызываются без блокировки: они могут отписаться изнутри
	for _, fn := range fns {
		var cp *domain.AuthIdentity
		if identity != nil {
			v := *identity
			cp = &v
		}
		fn(cp)
	}
}
