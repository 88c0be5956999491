package domain

import (
	"sort"
	"time"
)

// Коллекции документного хранилища
const (
	CollectionMessages  = "chat"
	CollectionRooms     = "chatRooms"
	CollectionAudit     = "auditLog"
	CollectionProfiles  = "profiles"
	CollectionUsernames = "usernames"
)

// Поля сообщений, по которым строятся запросы
const (
	FieldRoomID       = "roomId"
	FieldTimestampMs  = "timestampMs"
	FieldParticipants = "participants"
	FieldUpdatedAtMs  = "updatedAtMs"
)

// Message - сообщение чата. Порядок: TimestampMs, затем ID
type Message struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver,omitempty"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs"`
	Redacted    bool   `json:"redacted"`
	IsBot       bool   `json:"isBot"`
}

func (m *Message) Time() time.Time {
	return time.UnixMilli(m.TimestampMs)
}

// Less задает детерминированный порядок ленты
func (m *Message) Less(other *Message) bool {
	if m.TimestampMs != other.TimestampMs {
		return m.TimestampMs < other.TimestampMs
	}
	return m.ID < other.ID
}

// SortMessages сортирует по возрастанию времени, при равенстве - по ID
func SortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Less(messages[j])
	})
}

// MessageRow - строка для слоя представления
type MessageRow struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	DisplayText string `json:"displayText"`
	TimeLabel   string `json:"timeLabel"`
	IsMine      bool   `json:"isMine"`
	IsRedacted  bool   `json:"isRedacted"`
	IsBot       bool   `json:"isBot"`
}

const (
	UnsentByMeText    = "You unsent a message."
	UnsentByOtherText = "This message was unsent."
	UnsentPreviewText = "message unsent"
)
