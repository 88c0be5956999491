package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

const deleteConcurrency = 16

// SendRequest - сообщение от участника комнаты.
// Responder задается только для DM: после отправки собеседник отвечает автоматически
type SendRequest struct {
	RoomID         string
	Sender         string
	Receiver       string
	Text           string
	ReceiverGender string
	Responder      *Responder
}

type FeedService interface {
	// Subscribe доставляет последние сообщения комнаты по возрастанию времени при каждом изменении
	Subscribe(ctx context.Context, roomID string, onUpdate func([]*domain.Message), onError func(error)) (repository.Unsubscribe, error)
	Send(ctx context.Context, req SendRequest) (*domain.Message, error)
	Unsend(ctx context.Context, messageID string) error
	Delete(ctx context.Context, messageID string) error
	// DeleteAllInRoom удаляет сообщения комнаты параллельно и возвращает число удаленных
	DeleteAllInRoom(ctx context.Context, roomID string) (int, error)
	// WaitAutoReplies ждет запланированные автоответы
	WaitAutoReplies()
}

type feedService struct {
	store          repository.DocumentStore
	rooms          RoomService
	limit          int
	autoReplyDelay time.Duration
	now            func() time.Time
	log            logger.Logger

	replies sync.WaitGroup
}

func NewFeedService(store repository.DocumentStore, rooms RoomService, limit int, autoReplyDelay time.Duration, log logger.Logger) FeedService {
	if limit <= 0 {
		limit = 200
	}
	return &feedService{
		store:          store,
		rooms:          rooms,
		limit:          limit,
		autoReplyDelay: autoReplyDelay,
		now:            time.Now,
		log:            log,
	}
}

func (s *feedService) Subscribe(ctx context.Context, roomID string, onUpdate func([]*domain.Message), onError func(error)) (repository.Unsubscribe, error) {
	sub := &feedSubscription{
		feed:     s,
		roomID:   roomID,
		onUpdate: onUpdate,
		onError:  onError,
	}
	if err := sub.start(ctx); err != nil {
		return nil, err
	}
	return sub.stop, nil
}

func (s *feedService) Send(ctx context.Context, req SendRequest) (*domain.Message, error) {
	text := strings.TrimSpace(req.Text)
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		return nil, apperrors.ErrNeedsIdentity
	}
	if text == "" {
		return nil, apperrors.NewValidationError("Please type a message before sending.")
	}
	if req.RoomID == "" {
		return nil, apperrors.NewValidationError("No chat room is open.")
	}

	msg := &domain.Message{
		ID:          s.store.GenerateID(domain.CollectionMessages),
		RoomID:      req.RoomID,
		Sender:      sender,
		Receiver:    req.Receiver,
		Text:        text,
		TimestampMs: s.now().UnixMilli(),
	}
	if err := s.write(ctx, msg); err != nil {
		return nil, err
	}

	// Ошибка метаданных комнаты не отменяет уже записанное сообщение
	if err := s.rooms.TouchRoomOnSend(ctx, msg.RoomID, text, sender); err != nil {
		s.log.Warn("Failed to touch room on send", "error", err, "room_id", msg.RoomID)
	}

	if req.RoomID != domain.GlobalRoomID && req.Responder != nil && req.Receiver != "" {
		s.scheduleAutoReply(msg, req)
	}

	return msg, nil
}

// scheduleAutoReply пишет ответ собеседника после задержки "набора"; ошибки только логируются
func (s *feedService) scheduleAutoReply(original *domain.Message, req SendRequest) {
	s.replies.Add(1)
	time.AfterFunc(s.autoReplyDelay, func() {
		defer s.replies.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		reply := &domain.Message{
			ID:          s.store.GenerateID(domain.CollectionMessages),
			RoomID:      original.RoomID,
			Sender:      req.Receiver,
			Receiver:    original.Sender,
			Text:        req.Responder.BuildReply(original.Text, req.ReceiverGender),
			TimestampMs: s.now().UnixMilli(),
			IsBot:       true,
		}
		if err := s.write(ctx, reply); err != nil {
			s.log.Error("Auto-reply failed", "error", err, "room_id", reply.RoomID)
			return
		}
		if err := s.rooms.TouchRoomOnSend(ctx, reply.RoomID, reply.Text, reply.Sender); err != nil {
			s.log.Warn("Failed to touch room after auto-reply", "error", err, "room_id", reply.RoomID)
		}
		s.log.Debug("Auto-reply sent", "room_id", reply.RoomID, "sender", reply.Sender)
	})
}

func (s *feedService) WaitAutoReplies() {
	s.replies.Wait()
}

func (s *feedService) write(ctx context.Context, msg *domain.Message) error {
	data, err := repository.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, domain.CollectionMessages, msg.ID, data, repository.SetOptions{}); err != nil {
		s.log.Error("Failed to save message", "error", err, "room_id", msg.RoomID)
		return err
	}
	return nil
}

func (s *feedService) Unsend(ctx context.Context, messageID string) error {
	err := s.store.Update(ctx, domain.CollectionMessages, messageID, map[string]interface{}{
		"text":     "",
		"redacted": true,
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("unsend %s: %w", messageID, apperrors.ErrMessageNotFound)
	}
	if err != nil {
		s.log.Error("Failed to unsend message", "error", err, "message_id", messageID)
		return err
	}
	return nil
}

func (s *feedService) Delete(ctx context.Context, messageID string) error {
	if err := s.store.Remove(ctx, domain.CollectionMessages, messageID); err != nil {
		s.log.Error("Failed to delete message", "error", err, "message_id", messageID)
		return err
	}
	return nil
}

func (s *feedService) DeleteAllInRoom(ctx context.Context, roomID string) (int, error) {
	docs, err := s.store.Query(ctx, repository.Query{
		Collection:    domain.CollectionMessages,
		EqualityField: domain.FieldRoomID,
		EqualityValue: roomID,
	})
	if err != nil {
		s.log.Error("Failed to list room messages", "error", err, "room_id", roomID)
		return 0, err
	}

	var deleted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, d := range docs {
		id := d.ID
		g.Go(func() error {
			if err := s.store.Remove(gctx, domain.CollectionMessages, id); err != nil {
				return err
			}
			atomic.AddInt64(&deleted, 1)
			return nil
		})
	}

	err = g.Wait()
	n := int(atomic.LoadInt64(&deleted))
	if err != nil {
		s.log.Error("Room clear partially failed", "error", err, "room_id", roomID, "deleted", n, "total", len(docs))
		return n, fmt.Errorf("deleted %d of %d messages: %w", n, len(docs), err)
	}

	s.log.Info("Room cleared", "room_id", roomID, "deleted", n)
	return n, nil
}

// feedSubscription - подписка на ленту с переходом на широкий запрос, если нет индекса
type feedSubscription struct {
	feed     *feedService
	roomID   string
	onUpdate func([]*domain.Message)
	onError  func(error)

	mu       sync.Mutex
	unsub    repository.Unsubscribe
	fallback bool
	stopped  atomic.Bool
}

func (f *feedSubscription) query() repository.Query {
	return repository.Query{
		Collection:    domain.CollectionMessages,
		EqualityField: domain.FieldRoomID,
		EqualityValue: f.roomID,
		OrderByField:  domain.FieldTimestampMs,
		Descending:    true,
		Limit:         f.feed.limit,
	}
}

func (f *feedSubscription) start(ctx context.Context) error {
	unsub, err := f.feed.store.Subscribe(ctx, f.query(), f.deliver, f.handleError)
	if errors.Is(err, apperrors.ErrIndexMissing) {
		return f.switchToFallback(ctx)
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped.Load() || f.fallback {
		// подписка уже остановлена или заменена широким запросом
		unsub()
		return nil
	}
	f.unsub = unsub
	return nil
}

func (f *feedSubscription) handleError(err error) {
	if f.stopped.Load() {
		return
	}
	if errors.Is(err, apperrors.ErrIndexMissing) {
		ferr := f.switchToFallback(context.Background())
		if ferr == nil {
			return
		}
		err = ferr
	}
	if f.onError != nil {
		f.onError(err)
	}
}

// switchToFallback заменяет упорядоченный запрос на фильтр без сортировки; делается один раз
func (f *feedSubscription) switchToFallback(ctx context.Context) error {
	f.mu.Lock()
	if f.fallback || f.stopped.Load() {
		f.mu.Unlock()
		return nil
	}
	f.fallback = true
	prev := f.unsub
	f.unsub = nil
	f.mu.Unlock()

	if prev != nil {
		prev()
	}
	f.feed.log.Warn("Feed index missing, falling back to client-side ordering", "room_id", f.roomID)

	unsub, err := f.feed.store.Subscribe(ctx, f.query().Broad(), f.deliver, f.handleFallbackError)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped.Load() {
		unsub()
		return nil
	}
	f.unsub = unsub
	return nil
}

func (f *feedSubscription) handleFallbackError(err error) {
	if f.stopped.Load() || f.onError == nil {
		return
	}
	f.onError(err)
}

func (f *feedSubscription) deliver(docs []repository.Document) {
	if f.stopped.Load() {
		return
	}
	messages := make([]*domain.Message, 0, len(docs))
	for _, d := range docs {
		var msg domain.Message
		if err := repository.Decode(d, &msg); err != nil {
			f.feed.log.Warn("Skipping malformed message", "error", err, "message_id", d.ID)
			continue
		}
		msg.ID = d.ID
		messages = append(messages, &msg)
	}
	domain.SortMessages(messages)
	if len(messages) > f.feed.limit {
		messages = messages[len(messages)-f.feed.limit:]
	}
	if f.stopped.Load() {
		return
	}
	f.onUpdate(messages)
}

func (f *feedSubscription) stop() {
	if f.stopped.Swap(true) {
		return
	}
	f.mu.Lock()
	unsub := f.unsub
	f.unsub = nil
	f.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
