package domain

import (
	"fmt"
	"strings"

	"matrimony_chat/internal/normalize"
)

const (
	GlobalRoomID       = "global"
	GlobalRoomName     = "Global Chat"
	GlobalReceiverName = "Global"

	DirectRoomPrefix    = "dm_"
	DirectRoomSeparator = "__"
)

type RoomType string

const (
	RoomTypeDM    RoomType = "dm"
	RoomTypeGroup RoomType = "group"
)

// Room - метаданные комнаты. Участники хранятся в нормализованном виде
type Room struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Type               RoomType          `json:"type"`
	Participants       []string          `json:"participants"`
	DisplayNames       map[string]string `json:"displayNames,omitempty"`
	LastMessagePreview string            `json:"lastMessagePreview"`
	LastSender         string            `json:"lastSender"`
	CreatedAtMs        int64             `json:"createdAtMs"`
	UpdatedAtMs        int64             `json:"updatedAtMs"`
}

// DisplayNameFor возвращает имя собеседника в DM для пользователя me
func (r *Room) DisplayNameFor(me string) string {
	if r.ID == GlobalRoomID {
		return GlobalRoomName
	}
	if r.Type != RoomTypeDM {
		if r.Name != "" {
			return r.Name
		}
		return r.ID
	}
	mine := normalize.Identity(me)
	for _, p := range r.Participants {
		if normalize.Identity(p) == mine {
			continue
		}
		if name := r.DisplayNames[p]; name != "" {
			return name
		}
		return p
	}
	return "Chat"
}

// RoomSummary - элемент списка комнат в сайдбаре
type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	LastMessage string `json:"lastMessage"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// Target - собеседник, запрошенный через ссылку (?to=&name=&gender=)
type Target struct {
	To     string `json:"to"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
}

// DisplayName - имя для заголовков, по умолчанию идентификатор
func (t *Target) DisplayName() string {
	if t == nil {
		return ""
	}
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	return strings.TrimSpace(t.To)
}

// RoomContext - результат разрешения комнаты для текущего пользователя
type RoomContext struct {
	RoomID              string  `json:"roomId"`
	RoomName            string  `json:"roomName"`
	ReceiverDisplayName string  `json:"receiverDisplayName"`
	Target              *Target `json:"target"`
}

func (c RoomContext) IsGlobal() bool {
	return c.RoomID == GlobalRoomID
}

// GlobalRoomContext - общая комната
func GlobalRoomContext() RoomContext {
	return RoomContext{
		RoomID:              GlobalRoomID,
		RoomName:            GlobalRoomName,
		ReceiverDisplayName: GlobalReceiverName,
	}
}

// DeriveDirectRoomID строит ключ DM, не зависящий от порядка участников
func DeriveDirectRoomID(a, b string) string {
	x := normalize.SafeToken(a)
	y := normalize.SafeToken(b)
	if y < x {
		x, y = y, x
	}
	return DirectRoomPrefix + x + DirectRoomSeparator + y
}

// IsDirectRoomID - проверка формы dm_{low}__{high}
func IsDirectRoomID(roomID string) bool {
	return strings.HasPrefix(roomID, DirectRoomPrefix) && strings.Contains(roomID, DirectRoomSeparator)
}

// ResolveRoomContext: без цели или при чате с самим собой - общая комната
func ResolveRoomContext(myIdentity string, target *Target) RoomContext {
	if target == nil {
		return GlobalRoomContext()
	}
	to := normalize.Identity(target.To)
	if to == "" {
		to = normalize.Identity(target.Name)
	}
	if to == "" || to == normalize.Identity(myIdentity) {
		return GlobalRoomContext()
	}

	display := target.DisplayName()
	t := *target
	t.To = strings.TrimSpace(t.To)
	if t.To == "" {
		t.To = display
	}
	t.Name = display
	t.Gender = strings.ToLower(strings.TrimSpace(t.Gender))

	return RoomContext{
		RoomID:              DeriveDirectRoomID(myIdentity, to),
		RoomName:            fmt.Sprintf("Chat with %s", display),
		ReceiverDisplayName: display,
		Target:              &t,
	}
}
