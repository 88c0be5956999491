package domain

import "strings"

// AuthIdentity - пользователь, известный сервису авторизации
type AuthIdentity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ChatName - имя для подписи сообщений: displayName, иначе локальная часть email
func (a *AuthIdentity) ChatName() string {
	if a == nil {
		return ""
	}
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		return name
	}
	email := strings.TrimSpace(a.Email)
	if i := strings.Index(email, "@"); i >= 0 {
		email = email[:i]
	}
	return strings.TrimSpace(email)
}
