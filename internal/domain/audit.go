package domain

import (
	"time"
)

type AuditLog struct {
	ID        string                 `json:"id"`
	EventTime time.Time              `json:"event_time"`
	Actor     string                 `json:"actor"`
	RoomID    string                 `json:"room_id,omitempty"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

const (
	EventTypeRoomCreated     = "ROOM_CREATED"
	EventTypeMessageDeleted  = "MESSAGE_DELETED"
	EventTypeMessageUnsent   = "MESSAGE_UNSENT"
	EventTypeRoomCleared     = "ROOM_CLEARED"
	EventTypeProfileSynced   = "PROFILE_SYNCED"
	EventTypeUsernameReserve = "USERNAME_RESERVED"
)
