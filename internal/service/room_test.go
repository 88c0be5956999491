package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

// stepClock - часы, которые сдвигаются на 1 мс при каждом вызове
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func newTestRoomService(store repository.DocumentStore) RoomService {
	rooms := NewRoomService(store, 0, logger.Nop())
	rooms.(*roomService).now = stepClock()
	return rooms
}

func loadRoom(t *testing.T, store repository.DocumentStore, id string) *domain.Room {
	t.Helper()
	doc, err := store.Get(context.Background(), domain.CollectionRooms, id)
	if err != nil {
		t.Fatalf("get room %s: %v", id, err)
	}
	var room domain.Room
	if err := repository.Decode(*doc, &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	return &room
}

// barrierStore придерживает SetMissing, пока его не вызовут все n участников,
// и запоминает createdAtMs того, чей вызов создал документ
type barrierStore struct {
	repository.DocumentStore
	arrived sync.WaitGroup

	mu       sync.Mutex
	creators []int64
}

func newBarrierStore(store repository.DocumentStore, n int) *barrierStore {
	b := &barrierStore{DocumentStore: store}
	b.arrived.Add(n)
	return b
}

func (b *barrierStore) SetMissing(ctx context.Context, collection, id string, defaults map[string]interface{}) (bool, error) {
	b.arrived.Done()
	b.arrived.Wait()

	created, err := b.DocumentStore.SetMissing(ctx, collection, id, defaults)
	if created {
		createdAt, _ := defaults["createdAtMs"].(float64)
		b.mu.Lock()
		b.creators = append(b.creators, int64(createdAt))
		b.mu.Unlock()
	}
	return created, err
}

func TestEnsureRoomConcurrentCreatorsAgree(t *testing.T) {
	ctx := context.Background()
	store := newBarrierStore(repository.NewMemoryStore(logger.Nop()), 2)
	rooms := newTestRoomService(store)

	var wg sync.WaitGroup
	for _, pair := range [][]string{{"Alice", "bob"}, {"bob", "alice"}} {
		pair := pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rooms.EnsureRoom(ctx, "dm_alice__bob", "Chat", pair); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	room := loadRoom(t, store, "dm_alice__bob")
	if !reflect.DeepEqual(room.Participants, []string{"alice", "bob"}) {
		t.Fatalf("participants = %v", room.Participants)
	}
	if room.Type != domain.RoomTypeDM {
		t.Fatalf("type = %s", room.Type)
	}
	if len(store.creators) != 1 {
		t.Fatalf("room created %d times", len(store.creators))
	}
	if room.CreatedAtMs != store.creators[0] {
		t.Fatalf("createdAtMs = %d, want first writer's %d", room.CreatedAtMs, store.creators[0])
	}
}

func TestEnsureRoomAfterTouchFillsParticipants(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	rooms := newTestRoomService(store)

	// отправка прошла раньше, чем комната была создана
	if err := rooms.TouchRoomOnSend(ctx, "dm_a__b", "hi", "a"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	touched := loadRoom(t, store, "dm_a__b")

	if err := rooms.EnsureRoom(ctx, "dm_a__b", "Chat with B", []string{"a", "b"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	room := loadRoom(t, store, "dm_a__b")

	if !reflect.DeepEqual(room.Participants, []string{"a", "b"}) || room.Type != domain.RoomTypeDM {
		t.Fatalf("room = %+v", room)
	}
	if room.CreatedAtMs != touched.CreatedAtMs {
		t.Errorf("createdAt changed: %d -> %d", touched.CreatedAtMs, room.CreatedAtMs)
	}
	if room.LastMessagePreview != "hi" || room.Name != "Chat with B" {
		t.Errorf("room = %+v", room)
	}

	list, err := rooms.ListRooms(ctx, "a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, r := range list {
		if r.ID == "dm_a__b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("dm missing from room list: %+v", list)
	}
}

func TestEnsureRoomKeepsExistingFields(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	rooms := NewRoomService(store, 0, logger.Nop())

	if err := rooms.EnsureRoom(ctx, "dm_alice__bob", "", []string{"alice", "bob"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := rooms.TouchRoomOnSend(ctx, "dm_alice__bob", "hello", "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	before := loadRoom(t, store, "dm_alice__bob")

	if err := rooms.EnsureRoom(ctx, "dm_alice__bob", "Chat with Bob", []string{"carol", "dave", "erin"}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	after := loadRoom(t, store, "dm_alice__bob")

	if !reflect.DeepEqual(after.Participants, before.Participants) {
		t.Errorf("participants changed: %v -> %v", before.Participants, after.Participants)
	}
	if after.CreatedAtMs != before.CreatedAtMs {
		t.Errorf("createdAt changed")
	}
	if after.LastMessagePreview != "hello" {
		t.Errorf("preview lost: %q", after.LastMessagePreview)
	}
	if after.Name != "Chat with Bob" {
		t.Errorf("missing name not filled: %q", after.Name)
	}
}

func TestTouchRoomOnSendCreatesMissingRoom(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	rooms := NewRoomService(store, 5, logger.Nop())

	if err := rooms.TouchRoomOnSend(ctx, domain.GlobalRoomID, "hello world", "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	room := loadRoom(t, store, domain.GlobalRoomID)
	if room.LastMessagePreview != "hello" || room.LastSender != "alice" {
		t.Fatalf("room = %+v", room)
	}
	if room.CreatedAtMs == 0 || room.UpdatedAtMs == 0 {
		t.Fatalf("timestamps not set: %+v", room)
	}
}

func TestListRoomsPrependsGlobal(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	rooms := newTestRoomService(store)

	_ = rooms.EnsureRoom(ctx, "dm_alice__bob", "", []string{"Alice", "Bob"})
	_ = rooms.EnsureRoom(ctx, "dm_alice__carol", "", []string{"alice", "Carol"})
	_ = rooms.EnsureRoom(ctx, "dm_bob__carol", "", []string{"bob", "carol"})
	_ = rooms.TouchRoomOnSend(ctx, "dm_alice__bob", "latest", "bob")

	list, err := rooms.ListRooms(ctx, "ALICE")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d: %+v", len(list), list)
	}
	if list[0].ID != domain.GlobalRoomID {
		t.Fatalf("first room = %s", list[0].ID)
	}
	if list[1].ID != "dm_alice__bob" || list[1].DisplayName != "Bob" || list[1].LastMessage != "latest" {
		t.Fatalf("second room = %+v", list[1])
	}
}

func TestListRoomsFallsBackWithoutIndex(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop(), repository.WithRequiredIndexes())
	rooms := newTestRoomService(store)

	_ = rooms.EnsureRoom(ctx, "dm_alice__bob", "", []string{"alice", "bob"})
	_ = rooms.EnsureRoom(ctx, "dm_alice__carol", "", []string{"alice", "carol"})
	_ = rooms.TouchRoomOnSend(ctx, "dm_alice__carol", "newer", "carol")

	_, err := store.Query(ctx, repository.Query{
		Collection:    domain.CollectionRooms,
		EqualityField: domain.FieldParticipants,
		EqualityValue: "alice",
		Op:            repository.FilterContains,
		OrderByField:  domain.FieldUpdatedAtMs,
	})
	if !errors.Is(err, apperrors.ErrIndexMissing) {
		t.Fatalf("expected index missing, got %v", err)
	}

	list, err := rooms.ListRooms(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[1].ID != "dm_alice__carol" {
		t.Fatalf("list = %+v", list)
	}
}

func TestListRoomsWithoutIdentity(t *testing.T) {
	rooms := NewRoomService(repository.NewMemoryStore(logger.Nop()), 0, logger.Nop())
	list, err := rooms.ListRooms(context.Background(), "  ")
	if err != nil || len(list) != 1 || list[0].ID != domain.GlobalRoomID {
		t.Fatalf("ListRooms = %+v, %v", list, err)
	}
}
