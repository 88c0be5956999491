package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

const (
	roomListLimit         = 50
	roomListFallbackLimit = 100
)

type RoomService interface {
	// EnsureRoom создает комнату, если ее нет; существующей не трогает участников и время создания
	EnsureRoom(ctx context.Context, roomID, name string, participants []string) error
	// TouchRoomOnSend обновляет превью последнего сообщения; создает комнату, если ее еще нет
	TouchRoomOnSend(ctx context.Context, roomID, previewText, senderName string) error
	ListRooms(ctx context.Context, identity string) ([]domain.RoomSummary, error)
}

type roomService struct {
	store        repository.DocumentStore
	previewLimit int
	now          func() time.Time
	log          logger.Logger
}

func NewRoomService(store repository.DocumentStore, previewLimit int, log logger.Logger) RoomService {
	if previewLimit <= 0 {
		previewLimit = 160
	}
	return &roomService{
		store:        store,
		previewLimit: previewLimit,
		now:          time.Now,
		log:          log,
	}
}

func (s *roomService) EnsureRoom(ctx context.Context, roomID, name string, participants []string) error {
	members, displayNames := normalizeParticipants(participants)

	roomType := domain.RoomTypeGroup
	if len(members) == 2 {
		roomType = domain.RoomTypeDM
	}
	nowMs := s.now().UnixMilli()

	room := &domain.Room{
		ID:           roomID,
		Name:         name,
		Type:         roomType,
		Participants: members,
		DisplayNames: displayNames,
		CreatedAtMs:  nowMs,
		UpdatedAtMs:  nowMs,
	}
	defaults, err := repository.Encode(room)
	if err != nil {
		return err
	}
	// превью не перетираем, если собеседник успел отправить сообщение
	delete(defaults, "lastMessagePreview")
	delete(defaults, "lastSender")

	// Создание и дозаполнение атомарны в хранилище: второй создатель DM и комната,
	// созданная отправкой сообщения, получают только отсутствующие поля
	created, err := s.store.SetMissing(ctx, domain.CollectionRooms, roomID, defaults)
	if err != nil {
		s.log.Error("Failed to ensure room", "error", err, "room_id", roomID)
		return err
	}
	if created {
		s.log.Info("Room created", "room_id", roomID, "type", roomType)
		return nil
	}
	if len(displayNames) == 0 {
		return nil
	}
	return s.addDisplayNames(ctx, roomID, displayNames)
}

// addDisplayNames дописывает имена участников, которых в комнате еще нет
func (s *roomService) addDisplayNames(ctx context.Context, roomID string, displayNames map[string]string) error {
	existing, err := s.store.Get(ctx, domain.CollectionRooms, roomID)
	if err != nil {
		s.log.Error("Failed to load room", "error", err, "room_id", roomID)
		return err
	}

	names := map[string]interface{}{}
	if current, ok := existing.Data["displayNames"].(map[string]interface{}); ok {
		for k, v := range current {
			names[k] = v
		}
	}
	changed := false
	for k, v := range displayNames {
		if _, ok := names[k]; !ok {
			names[k] = v
			changed = true
		}
	}
	if !changed {
		return nil
	}
	patch := map[string]interface{}{"displayNames": names}
	return s.store.Set(ctx, domain.CollectionRooms, roomID, patch, repository.SetOptions{Merge: true})
}

func (s *roomService) TouchRoomOnSend(ctx context.Context, roomID, previewText, senderName string) error {
	patch := map[string]interface{}{
		"lastMessagePreview": normalize.Truncate(previewText, s.previewLimit),
		"lastSender":         senderName,
		"updatedAtMs":        s.now().UnixMilli(),
	}

	err := s.store.Update(ctx, domain.CollectionRooms, roomID, patch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		s.log.Error("Failed to update room metadata", "error", err, "room_id", roomID)
		return err
	}

	patch["id"] = roomID
	patch["createdAtMs"] = patch["updatedAtMs"]
	if err := s.store.Set(ctx, domain.CollectionRooms, roomID, patch, repository.SetOptions{Merge: true}); err != nil {
		s.log.Error("Failed to upsert room metadata", "error", err, "room_id", roomID)
		return err
	}
	return nil
}

func (s *roomService) ListRooms(ctx context.Context, identity string) ([]domain.RoomSummary, error) {
	global := s.globalSummary(ctx)
	me := normalize.Identity(identity)
	if me == "" {
		return []domain.RoomSummary{global}, nil
	}

	q := repository.Query{
		Collection:    domain.CollectionRooms,
		EqualityField: domain.FieldParticipants,
		EqualityValue: me,
		Op:            repository.FilterContains,
		OrderByField:  domain.FieldUpdatedAtMs,
		Descending:    true,
		Limit:         roomListLimit,
	}

	docs, err := s.store.Query(ctx, q)
	if errors.Is(err, apperrors.ErrIndexMissing) {
		s.log.Warn("Room list index missing, sorting client-side", "identity", me)
		docs, err = s.store.Query(ctx, q.Broad())
		if err == nil {
			rooms := decodeRooms(docs, s.log)
			sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].UpdatedAtMs > rooms[j].UpdatedAtMs })
			if len(rooms) > roomListFallbackLimit {
				rooms = rooms[:roomListFallbackLimit]
			}
			return withGlobal(global, summarize(rooms, me)), nil
		}
	}
	if err != nil {
		s.log.Error("Failed to list rooms", "error", err, "identity", me)
		return nil, err
	}

	return withGlobal(global, summarize(decodeRooms(docs, s.log), me)), nil
}

func (s *roomService) globalSummary(ctx context.Context) domain.RoomSummary {
	summary := domain.RoomSummary{
		ID:          domain.GlobalRoomID,
		Name:        domain.GlobalRoomName,
		DisplayName: domain.GlobalRoomName,
	}
	doc, err := s.store.Get(ctx, domain.CollectionRooms, domain.GlobalRoomID)
	if err != nil {
		return summary
	}
	var room domain.Room
	if err := repository.Decode(*doc, &room); err == nil {
		summary.LastMessage = room.LastMessagePreview
		summary.UpdatedAtMs = room.UpdatedAtMs
	}
	return summary
}

func normalizeParticipants(participants []string) ([]string, map[string]string) {
	seen := make(map[string]string, len(participants))
	members := make([]string, 0, len(participants))
	for _, p := range participants {
		key := normalize.Identity(p)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = p
		members = append(members, key)
	}
	sort.Strings(members)

	if len(seen) == 0 {
		return members, nil
	}
	names := make(map[string]string, len(seen))
	for k, v := range seen {
		names[k] = v
	}
	return members, names
}

func decodeRooms(docs []repository.Document, log logger.Logger) []*domain.Room {
	rooms := make([]*domain.Room, 0, len(docs))
	for _, d := range docs {
		var room domain.Room
		if err := repository.Decode(d, &room); err != nil {
			log.Warn("Skipping malformed room", "error", err, "room_id", d.ID)
			continue
		}
		room.ID = d.ID
		rooms = append(rooms, &room)
	}
	return rooms
}

func summarize(rooms []*domain.Room, me string) []domain.RoomSummary {
	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, domain.RoomSummary{
			ID:          r.ID,
			Name:        r.Name,
			DisplayName: r.DisplayNameFor(me),
			LastMessage: r.LastMessagePreview,
			UpdatedAtMs: r.UpdatedAtMs,
		})
	}
	return out
}

func withGlobal(global domain.RoomSummary, rooms []domain.RoomSummary) []domain.RoomSummary {
	for _, r := range rooms {
		if r.ID == domain.GlobalRoomID {
			return rooms
		}
	}
	return append([]domain.RoomSummary{global}, rooms...)
}
