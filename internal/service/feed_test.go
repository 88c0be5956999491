package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/repository"
	apperrors "matrimony_chat/pkg/errors"
	"matrimony_chat/pkg/logger"
)

func newTestFeed(store repository.DocumentStore, limit int) FeedService {
	return NewFeedService(store, newTestRoomService(store), limit, 10*time.Millisecond, logger.Nop())
}

func putMessage(t *testing.T, store repository.DocumentStore, msg domain.Message) {
	t.Helper()
	data, err := repository.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set(context.Background(), domain.CollectionMessages, msg.ID, data, repository.SetOptions{}); err != nil {
		t.Fatal(err)
	}
}

func subscribeFeed(t *testing.T, feed FeedService, roomID string) <-chan []*domain.Message {
	t.Helper()
	updates := make(chan []*domain.Message, 64)
	unsub, err := feed.Subscribe(context.Background(), roomID, func(m []*domain.Message) {
		updates <- m
	}, func(err error) {
		t.Errorf("subscription error: %v", err)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(unsub)
	return updates
}

func waitMessages(t *testing.T, updates <-chan []*domain.Message, cond func([]*domain.Message) bool) []*domain.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-updates:
			if cond(m) {
				return m
			}
		case <-timeout:
			t.Fatal("timed out waiting for feed update")
			return nil
		}
	}
}

func ids(messages []*domain.Message) string {
	out := ""
	for _, m := range messages {
		out += m.ID + ","
	}
	return out
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	feed := newTestFeed(store, 0)

	if _, err := feed.Send(ctx, SendRequest{RoomID: "global", Text: "hi"}); !errors.Is(err, apperrors.ErrNeedsIdentity) {
		t.Errorf("empty sender: %v", err)
	}
	_, err := feed.Send(ctx, SendRequest{RoomID: "global", Sender: "alice", Text: "   "})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("blank text: %v", err)
	}
	if apperrors.UserMessage(err) != "Please type a message before sending." {
		t.Errorf("user message = %q", apperrors.UserMessage(err))
	}

	docs, _ := store.Query(ctx, repository.Query{Collection: domain.CollectionMessages})
	if len(docs) != 0 {
		t.Fatalf("nothing should be written, got %d", len(docs))
	}
}

func TestSubscribeOrdersAndLimits(t *testing.T) {
	store := repository.NewMemoryStore(logger.Nop())
	feed := newTestFeed(store, 3)

	putMessage(t, store, domain.Message{ID: "m1", RoomID: "r", Sender: "a", Text: "1", TimestampMs: 100})
	putMessage(t, store, domain.Message{ID: "m2b", RoomID: "r", Sender: "a", Text: "2", TimestampMs: 200})
	putMessage(t, store, domain.Message{ID: "m2a", RoomID: "r", Sender: "a", Text: "2", TimestampMs: 200})
	putMessage(t, store, domain.Message{ID: "m0", RoomID: "r", Sender: "a", Text: "0", TimestampMs: 50})
	putMessage(t, store, domain.Message{ID: "x", RoomID: "other", Sender: "a", Text: "x", TimestampMs: 300})

	updates := subscribeFeed(t, feed, "r")
	got := waitMessages(t, updates, func(m []*domain.Message) bool { return len(m) == 3 })
	if ids(got) != "m1,m2a,m2b," {
		t.Fatalf("order = %s", ids(got))
	}
}

func TestSubscribeFallsBackWithoutIndex(t *testing.T) {
	store := repository.NewMemoryStore(logger.Nop(), repository.WithRequiredIndexes())
	feed := newTestFeed(store, 0)

	putMessage(t, store, domain.Message{ID: "b", RoomID: "r", Sender: "a", Text: "2", TimestampMs: 200})
	putMessage(t, store, domain.Message{ID: "a", RoomID: "r", Sender: "a", Text: "1", TimestampMs: 100})

	updates := subscribeFeed(t, feed, "r")
	got := waitMessages(t, updates, func(m []*domain.Message) bool { return len(m) == 2 })
	if ids(got) != "a,b," {
		t.Fatalf("order = %s", ids(got))
	}

	putMessage(t, store, domain.Message{ID: "c", RoomID: "r", Sender: "a", Text: "3", TimestampMs: 300})
	got = waitMessages(t, updates, func(m []*domain.Message) bool { return len(m) == 3 })
	if ids(got) != "a,b,c," {
		t.Fatalf("order after insert = %s", ids(got))
	}
}

func TestUnsendAndDelete(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	feed := newTestFeed(store, 0)

	msg, err := feed.Send(ctx, SendRequest{RoomID: domain.GlobalRoomID, Sender: "alice", Text: "oops"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := feed.Unsend(ctx, msg.ID); err != nil {
			t.Fatalf("unsend #%d: %v", i, err)
		}
	}
	doc, err := store.Get(ctx, domain.CollectionMessages, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	var stored domain.Message
	_ = repository.Decode(*doc, &stored)
	if !stored.Redacted || stored.Text != "" || stored.Sender != "alice" {
		t.Fatalf("stored = %+v", stored)
	}

	if err := feed.Unsend(ctx, "missing"); !errors.Is(err, apperrors.ErrMessageNotFound) {
		t.Fatalf("unsend missing: %v", err)
	}

	if err := feed.Delete(ctx, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, domain.CollectionMessages, msg.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("message still present: %v", err)
	}
}

func TestDeleteAllInRoom(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	feed := newTestFeed(store, 0)

	for i := 0; i < 40; i++ {
		putMessage(t, store, domain.Message{ID: fmt.Sprintf("m%02d", i), RoomID: "r", Sender: "a", Text: "x", TimestampMs: int64(i)})
	}
	putMessage(t, store, domain.Message{ID: "keep", RoomID: "other", Sender: "a", Text: "x"})

	n, err := feed.DeleteAllInRoom(ctx, "r")
	if err != nil || n != 40 {
		t.Fatalf("DeleteAllInRoom = %d, %v", n, err)
	}
	n, err = feed.DeleteAllInRoom(ctx, "r")
	if err != nil || n != 0 {
		t.Fatalf("second clear = %d, %v", n, err)
	}
	if _, err := store.Get(ctx, domain.CollectionMessages, "keep"); err != nil {
		t.Fatalf("other room touched: %v", err)
	}
}

func TestAutoReplyInDirectRoom(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	feed := newTestFeed(store, 0)
	roomID := domain.DeriveDirectRoomID("alice", "bob.smith")

	_, err := feed.Send(ctx, SendRequest{
		RoomID:    roomID,
		Sender:    "alice",
		Receiver:  "bob.smith",
		Text:      "hi",
		Responder: NewResponder(3),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	feed.WaitAutoReplies()

	docs, _ := store.Query(ctx, repository.Query{
		Collection:    domain.CollectionMessages,
		EqualityField: domain.FieldRoomID,
		EqualityValue: roomID,
		OrderByField:  domain.FieldTimestampMs,
	})
	if len(docs) != 2 {
		t.Fatalf("messages = %d, want 2", len(docs))
	}
	var reply domain.Message
	for _, d := range docs {
		var m domain.Message
		_ = repository.Decode(d, &m)
		if m.IsBot {
			reply = m
		}
	}
	if reply.Sender != "bob.smith" || reply.Receiver != "alice" || !contains(greetingReplies, reply.Text) {
		t.Fatalf("reply = %+v", reply)
	}

	room := loadRoom(t, store, roomID)
	if room.LastSender != "bob.smith" {
		t.Fatalf("room not touched by reply: %+v", room)
	}
}

func TestNoAutoReplyInGlobalRoom(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(logger.Nop())
	feed := newTestFeed(store, 0)

	_, err := feed.Send(ctx, SendRequest{
		RoomID:    domain.GlobalRoomID,
		Sender:    "alice",
		Receiver:  domain.GlobalReceiverName,
		Text:      "hi all",
		Responder: NewResponder(3),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	feed.WaitAutoReplies()

	docs, _ := store.Query(ctx, repository.Query{Collection: domain.CollectionMessages})
	if len(docs) != 1 {
		t.Fatalf("messages = %d, want 1", len(docs))
	}
}
