package domain

// RecentContact - запись локального кэша недавних собеседников
type RecentContact struct {
	To          string `json:"to"`
	Name        string `json:"name"`
	Gender      string `json:"gender,omitempty"`
	Preview     string `json:"preview,omitempty"`
	UpdatedAtMs int64  `json:"updatedAt"`
}

// RecentPatch - изменяемые поля при upsert. Nil - не трогать
type RecentPatch struct {
	Preview     *string
	UpdatedAtMs int64
}

// Contact - запись справочника профилей (для пола и аватара собеседника)
type Contact struct {
	Name     string `json:"name" yaml:"name"`
	Slug     string `json:"slug" yaml:"slug"`
	Username string `json:"username" yaml:"username"`
	Gender   string `json:"gender" yaml:"gender"`
	Photo    string `json:"photo" yaml:"photo"`
}

const (
	GenderMale   = "male"
	GenderFemale = "female"
)
