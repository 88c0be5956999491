package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"matrimony_chat/internal/config"
	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

type EventType string

const (
	EventRoom          EventType = "room"
	EventRows          EventType = "rows"
	EventError         EventType = "error"
	EventNeedsIdentity EventType = "needs_identity"
	EventRecents       EventType = "recents"
)

// SessionEvent - уведомление слою представления
type SessionEvent struct {
	Type    EventType              `json:"type"`
	Room    *domain.RoomContext    `json:"room,omitempty"`
	Gender  string                 `json:"gender,omitempty"`
	Photo   string                 `json:"photo,omitempty"`
	Rows    []domain.MessageRow    `json:"rows,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Recents []domain.RecentContact `json:"recents,omitempty"`
}

// EventSink не должен блокироваться: вызывается из горутины доставки ленты
type EventSink func(SessionEvent)

// SessionState - снимок состояния сессии для REST
type SessionState struct {
	Identity      string              `json:"identity"`
	NeedsIdentity bool                `json:"needsIdentity"`
	Room          domain.RoomContext  `json:"room"`
	Gender        string              `json:"gender"`
	Photo         string              `json:"photo,omitempty"`
	Rows          []domain.MessageRow `json:"rows"`
	Error         string              `json:"error,omitempty"`
}

// SessionDeps - общие зависимости всех сессий
type SessionDeps struct {
	Rooms     RoomService
	Feed      FeedService
	Audit     AuditService
	RateLimit RateLimitService
	Contacts  *ContactDirectory
	Auth      repository.IdentityStore
	Local     repository.LocalStoreFactory
	Chat      config.ChatConfig
	Location  *time.Location
	Log       logger.Logger
}

// ChatSession - контроллер чата одного участника.
// Держит не больше одной живой подписки; доставки от прежней комнаты отбрасываются по поколению
type ChatSession struct {
	id        string
	identity  *IdentityResolver
	recents   *RecentsCache
	responder *Responder
	deps      SessionDeps
	log       logger.Logger

	// deliverMu упорядочивает смену комнаты и отправку событий ленты
	deliverMu sync.Mutex

	mu            sync.Mutex
	room          domain.RoomContext
	gender        string
	photo         string
	generation    uint64
	unsubscribe   repository.Unsubscribe
	messages      []*domain.Message
	banner        string
	pending       bool
	pendingTarget *domain.Target
	sinks         map[int]EventSink
	nextSink      int
	closed        bool
	stopAuth      func()
}

func NewChatSession(id string, deps SessionDeps) *ChatSession {
	local := deps.Local.For(id)
	log := deps.Log.With("session_id", id)
	if deps.Location == nil {
		deps.Location = time.Local
	}

	s := &ChatSession{
		id:        id,
		identity:  NewIdentityResolver(id, local, deps.Auth, deps.Chat.IdentityWait, log),
		recents:   NewRecentsCache(local, deps.Chat.RecentsMax, log),
		responder: NewResponder(0),
		deps:      deps,
		log:       log,
		room:      domain.GlobalRoomContext(),
		gender:    domain.GenderMale,
		sinks:     make(map[int]EventSink),
	}
	if deps.Auth != nil {
		s.stopAuth = deps.Auth.OnIdentityChange(id, s.handleAuthChange)
	}
	return s
}

func (s *ChatSession) ID() string {
	return s.id
}

func (s *ChatSession) Identity() *IdentityResolver {
	return s.identity
}

func (s *ChatSession) Recents() *RecentsCache {
	return s.recents
}

// Attach подключает получателя событий; возвращает отключение
func (s *ChatSession) Attach(sink EventSink) func() {
	s.mu.Lock()
	s.nextSink++
	key := s.nextSink
	s.sinks[key] = sink
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.sinks, key)
		s.mu.Unlock()
	}
}

// OpenRoom переключает сессию на комнату цели: снимает прежнюю подписку, создает комнату и подписывается
func (s *ChatSession) OpenRoom(ctx context.Context, target *domain.Target) (domain.RoomContext, error) {
	me := s.identity.Get(ctx)
	if me == "" {
		s.mu.Lock()
		s.pending = true
		s.pendingTarget = target
		s.mu.Unlock()
		s.emit(SessionEvent{Type: EventNeedsIdentity})
		return domain.RoomContext{}, apperrors.ErrNeedsIdentity
	}

	rc := domain.ResolveRoomContext(me, target)
	gender := s.deps.Contacts.ResolveGender(rc.Target)
	photo := s.deps.Contacts.Photo(rc.Target)

	s.deliverMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return domain.RoomContext{}, fmt.Errorf("session %s is closed", s.id)
	}
	s.generation++
	gen := s.generation
	prev := s.unsubscribe
	s.unsubscribe = nil
	s.room = rc
	s.gender = gender
	s.photo = photo
	s.messages = nil
	s.pending = false
	s.pendingTarget = nil
	s.mu.Unlock()

	// прежняя подписка снимается до новой
	if prev != nil {
		prev()
	}
	room := rc
	s.emit(SessionEvent{Type: EventRoom, Room: &room, Gender: gender, Photo: photo})
	s.deliverMu.Unlock()

	var participants []string
	if !rc.IsGlobal() {
		participants = []string{me, rc.Target.To}
	}
	if err := s.deps.Rooms.EnsureRoom(ctx, rc.RoomID, rc.RoomName, participants); err != nil {
		s.reportError(err)
	}

	if !rc.IsGlobal() {
		if err := s.recents.Upsert(ctx, *rc.Target, domain.RecentPatch{}); err != nil {
			s.log.Warn("Failed to update recents", "error", err)
		} else {
			s.emitRecents(ctx)
		}
	}

	unsub, err := s.deps.Feed.Subscribe(ctx, rc.RoomID,
		func(messages []*domain.Message) { s.onMessages(gen, messages) },
		func(err error) { s.onFeedError(gen, err) },
	)
	if err != nil {
		s.reportError(err)
		return rc, err
	}

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		unsub()
		return rc, nil
	}
	s.unsubscribe = unsub
	s.mu.Unlock()

	s.log.Info("Room opened", "room_id", rc.RoomID)
	return rc, nil
}

func (s *ChatSession) onMessages(gen uint64, messages []*domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.deliverMu.Lock()
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return
	}
	s.messages = messages
	room := s.room
	s.mu.Unlock()

	rows := RenderRows(messages, s.identity.Get(ctx), s.deps.Location)
	s.emit(SessionEvent{Type: EventRows, Rows: rows})
	s.deliverMu.Unlock()

	s.clearError()

	if room.IsGlobal() || room.Target == nil {
		return
	}
	if preview, ts, ok := LastMessagePreview(messages); ok {
		if err := s.recents.Upsert(ctx, *room.Target, domain.RecentPatch{Preview: &preview, UpdatedAtMs: ts}); err != nil {
			s.log.Warn("Failed to update recents preview", "error", err)
			return
		}
		s.emitRecents(ctx)
	}
}

func (s *ChatSession) onFeedError(gen uint64, err error) {
	s.mu.Lock()
	stale := s.closed || gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}
	s.reportError(err)
}

// Send отправляет сообщение в текущую комнату от имени identity сессии
func (s *ChatSession) Send(ctx context.Context, text string) (*domain.Message, error) {
	me := s.identity.Get(ctx)
	if me == "" {
		s.emit(SessionEvent{Type: EventNeedsIdentity})
		return nil, apperrors.ErrNeedsIdentity
	}
	if s.deps.RateLimit != nil {
		if err := s.deps.RateLimit.CheckSend(ctx, s.id); err != nil {
			s.reportError(err)
			return nil, err
		}
	}

	s.mu.Lock()
	room, gender := s.room, s.gender
	s.mu.Unlock()

	req := SendRequest{
		RoomID:         room.RoomID,
		Sender:         me,
		Receiver:       room.ReceiverDisplayName,
		Text:           text,
		ReceiverGender: gender,
	}
	if !room.IsGlobal() {
		req.Responder = s.responder
	}

	msg, err := s.deps.Feed.Send(ctx, req)
	if err != nil {
		if errors.Is(err, apperrors.ErrNeedsIdentity) {
			s.emit(SessionEvent{Type: EventNeedsIdentity})
		}
		s.reportError(err)
		return nil, err
	}
	s.clearError()

	if !room.IsGlobal() && room.Target != nil {
		preview := SentPreview(strings.TrimSpace(text))
		if err := s.recents.Upsert(ctx, *room.Target, domain.RecentPatch{Preview: &preview, UpdatedAtMs: msg.TimestampMs}); err != nil {
			s.log.Warn("Failed to update recents after send", "error", err)
		} else {
			s.emitRecents(ctx)
		}
	}
	return msg, nil
}

func (s *ChatSession) Unsend(ctx context.Context, messageID string) error {
	if err := s.deps.Feed.Unsend(ctx, messageID); err != nil {
		s.reportError(err)
		return err
	}
	s.audit(ctx, domain.EventTypeMessageUnsent, map[string]interface{}{"message_id": messageID})
	s.clearError()
	return nil
}

func (s *ChatSession) Delete(ctx context.Context, messageID string) error {
	if err := s.deps.Feed.Delete(ctx, messageID); err != nil {
		s.reportError(err)
		return err
	}
	s.audit(ctx, domain.EventTypeMessageDeleted, map[string]interface{}{"message_id": messageID})
	s.clearError()
	return nil
}

// DeleteAll очищает текущую комнату; при частичной ошибке возвращает число удаленных и ошибку
func (s *ChatSession) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	roomID := s.room.RoomID
	s.mu.Unlock()

	n, err := s.deps.Feed.DeleteAllInRoom(ctx, roomID)
	s.audit(ctx, domain.EventTypeRoomCleared, map[string]interface{}{"deleted": n, "partial": err != nil})
	if err != nil {
		s.reportError(err)
		return n, err
	}
	s.clearError()
	return n, nil
}

// SetIdentity сохраняет имя и заново открывает комнату: id DM зависит от identity
func (s *ChatSession) SetIdentity(ctx context.Context, value string) (domain.RoomContext, error) {
	if err := s.identity.Set(ctx, value); err != nil {
		s.reportError(err)
		return domain.RoomContext{}, err
	}

	s.mu.Lock()
	target := s.room.Target
	if s.pending {
		target = s.pendingTarget
	}
	s.mu.Unlock()

	return s.OpenRoom(ctx, target)
}

// Rows перерисовывает последнюю доставку с текущей identity
func (s *ChatSession) Rows(ctx context.Context) []domain.MessageRow {
	s.mu.Lock()
	messages := s.messages
	s.mu.Unlock()
	return RenderRows(messages, s.identity.Get(ctx), s.deps.Location)
}

func (s *ChatSession) State(ctx context.Context) SessionState {
	me := s.identity.Get(ctx)

	s.mu.Lock()
	state := SessionState{
		Identity:      me,
		NeedsIdentity: me == "",
		Room:          s.room,
		Gender:        s.gender,
		Photo:         s.photo,
		Error:         s.banner,
	}
	messages := s.messages
	s.mu.Unlock()

	state.Rows = RenderRows(messages, me, s.deps.Location)
	return state
}

// Close снимает подписку и отключает получателей событий
func (s *ChatSession) Close() {
	s.deliverMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	unsub := s.unsubscribe
	s.unsubscribe = nil
	stopAuth := s.stopAuth
	s.sinks = make(map[int]EventSink)
	s.mu.Unlock()
	s.deliverMu.Unlock()

	if unsub != nil {
		unsub()
	}
	if stopAuth != nil {
		stopAuth()
	}
	s.log.Debug("Chat session closed")
}

// handleAuthChange кэширует пользователя и открывает отложенную комнату, если ждали identity
func (s *ChatSession) handleAuthChange(user *domain.AuthIdentity) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.identity.CacheAuthUser(ctx, user)

	if user == nil {
		return
	}
	s.mu.Lock()
	reopen := s.pending && !s.closed
	target := s.pendingTarget
	s.mu.Unlock()
	if !reopen {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.OpenRoom(ctx, target); err != nil {
			s.log.Warn("Failed to open pending room after sign-in", "error", err)
		}
	}()
}

func (s *ChatSession) audit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if s.deps.Audit == nil {
		return
	}
	s.mu.Lock()
	roomID := s.room.RoomID
	s.mu.Unlock()

	if err := s.deps.Audit.LogEvent(ctx, s.identity.Get(ctx), roomID, eventType, payload); err != nil {
		s.log.Warn("Failed to write audit log", "error", err, "event_type", eventType)
	}
}

// reportError выставляет единственный баннер ошибки
func (s *ChatSession) reportError(err error) {
	msg := apperrors.UserMessage(err)
	s.log.Warn("Chat operation failed", "error", err)

	s.mu.Lock()
	s.banner = msg
	s.mu.Unlock()
	s.emit(SessionEvent{Type: EventError, Error: msg})
}

func (s *ChatSession) clearError() {
	s.mu.Lock()
	had := s.banner != ""
	s.banner = ""
	s.mu.Unlock()
	if had {
		s.emit(SessionEvent{Type: EventError})
	}
}

func (s *ChatSession) emitRecents(ctx context.Context) {
	items, err := s.recents.List(ctx)
	if err != nil {
		s.log.Warn("Failed to read recents", "error", err)
		return
	}
	s.emit(SessionEvent{Type: EventRecents, Recents: items})
}

func (s *ChatSession) emit(ev SessionEvent) {
	s.mu.Lock()
	sinks := make([]EventSink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink(ev)
	}
}
