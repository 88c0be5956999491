package domain

import (
	"testing"
)

func TestDeriveDirectRoomIDOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob.smith"},
		{"Zed", "amy"},
		{"", "someone"},
		{"Priya Sharma", "rahul_k"},
		{"same", "SAME"},
		{"日本", "!!"},
	}
	for _, p := range pairs {
		ab := DeriveDirectRoomID(p[0], p[1])
		ba := DeriveDirectRoomID(p[1], p[0])
		if ab != ba {
			t.Errorf("DeriveDirectRoomID(%q,%q)=%q but reversed=%q", p[0], p[1], ab, ba)
		}
	}
}

// Идентификатор комнаты строится из SafeToken: точка схлопывается в "_".
// Вариант "bobsmith" дает только normalize.Key, которым сопоставляются контакты
func TestDeriveDirectRoomIDScenario(t *testing.T) {
	got := DeriveDirectRoomID("alice", "bob.smith")
	want := "dm_alice__bob_smith"
	if got != want {
		t.Fatalf("DeriveDirectRoomID = %q, want %q", got, want)
	}
	if !IsDirectRoomID(got) {
		t.Fatalf("expected %q to be recognized as a direct room", got)
	}
}

func TestResolveRoomContextGlobal(t *testing.T) {
	cases := []struct {
		name   string
		me     string
		target *Target
	}{
		{"no target", "alice", nil},
		{"self", "alice", &Target{To: "alice"}},
		{"self different case", "Alice", &Target{To: "  ALICE "}},
		{"empty target", "alice", &Target{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := ResolveRoomContext(tc.me, tc.target)
			if ctx.RoomID != GlobalRoomID || ctx.RoomName != GlobalRoomName || ctx.Target != nil {
				t.Fatalf("got %+v, want global room context", ctx)
			}
		})
	}
}

func TestResolveRoomContextDirect(t *testing.T) {
	ctx := ResolveRoomContext("alice", &Target{To: "Bob.Smith", Name: "Bob", Gender: " MALE "})
	if ctx.RoomID != "dm_alice__bob_smith" {
		t.Fatalf("room id = %q", ctx.RoomID)
	}
	if ctx.RoomName != "Chat with Bob" || ctx.ReceiverDisplayName != "Bob" {
		t.Fatalf("unexpected names: %+v", ctx)
	}
	if ctx.Target == nil || ctx.Target.Gender != "male" {
		t.Fatalf("target not normalized: %+v", ctx.Target)
	}

	other := ResolveRoomContext(" BOB.SMITH", &Target{To: "alice"})
	if other.RoomID != ctx.RoomID {
		t.Fatalf("both parties should land in the same room: %q vs %q", other.RoomID, ctx.RoomID)
	}
}

func TestRoomDisplayNameFor(t *testing.T) {
	room := &Room{
		ID:           "dm_alice__bob",
		Type:         RoomTypeDM,
		Participants: []string{"alice", "bob"},
		DisplayNames: map[string]string{"bob": "Bob S."},
	}
	if got := room.DisplayNameFor("ALICE"); got != "Bob S." {
		t.Fatalf("DisplayNameFor = %q", got)
	}
	if got := room.DisplayNameFor("bob"); got != "alice" {
		t.Fatalf("DisplayNameFor = %q", got)
	}
}

func TestSortMessagesTieBreak(t *testing.T) {
	msgs := []*Message{
		{ID: "c", TimestampMs: 10},
		{ID: "a", TimestampMs: 10},
		{ID: "z", TimestampMs: 5},
		{ID: "b", TimestampMs: 10},
	}
	SortMessages(msgs)
	want := []string{"z", "a", "b", "c"}
	for i, m := range msgs {
		if m.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, m.ID, want[i])
		}
	}
}
