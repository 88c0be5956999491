package domain

import "time"

// PaymentPrefill - данные покупателя после успешной оплаты (только имя и email)
type PaymentPrefill struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	TS    time.Time `json:"ts"`
}

func (p *PaymentPrefill) Empty() bool {
	return p == nil || (p.Name == "" && p.Email == "")
}

// Profile - поля профиля, которые заполняет синхронизация
type Profile struct {
	Name      string `json:"name,omitempty"`
	Username  string `json:"username,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// ProfileSyncResult - итог применения отложенной синхронизации
type ProfileSyncResult struct {
	Applied bool                   `json:"applied"`
	Reason  string                 `json:"reason,omitempty"`
	Patch   map[string]interface{} `json:"patch,omitempty"`
}

const (
	SyncReasonNoPending = "no-pending"
	SyncReasonNoAuth    = "no-auth"
)

// LikeState - счетчик лайков профиля в рамках сессии
type LikeState struct {
	Slug  string `json:"slug"`
	Count int    `json:"count"`
	Liked bool   `json:"liked"`
}
