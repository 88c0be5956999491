package service

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
	"matrimony_chat/pkg/logger"
)

var (
	examplePrefix = regexp.MustCompile(`^example[-_]?`)
	remoteURL     = regexp.MustCompile(`(?i)^https?://`)
)

type contactsFile struct {
	Contacts []domain.Contact `yaml:"contacts"`
}

// ContactDirectory - справочник профилей для пола и фото собеседника
type ContactDirectory struct {
	contacts []domain.Contact
}

func NewContactDirectory(contacts []domain.Contact) *ContactDirectory {
	return &ContactDirectory{contacts: contacts}
}

// LoadContacts читает YAML со списком contacts. Пустой путь - пустой справочник
func LoadContacts(path string, log logger.Logger) (*ContactDirectory, error) {
	if path == "" {
		return NewContactDirectory(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contacts file: %w", err)
	}
	var file contactsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse contacts file: %w", err)
	}
	log.Info("Contacts directory loaded", "path", path, "count", len(file.Contacts))
	return NewContactDirectory(file.Contacts), nil
}

func (d *ContactDirectory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.contacts)
}

// Find ищет контакт по имени, идентификатору или идентификатору без префикса example-
func (d *ContactDirectory) Find(target *domain.Target) (*domain.Contact, bool) {
	if d == nil || target == nil {
		return nil, false
	}
	keys := map[string]bool{}
	for _, k := range []string{
		normalize.Key(target.Name),
		normalize.Key(target.To),
		normalize.Key(examplePrefix.ReplaceAllString(strings.ToLower(strings.TrimSpace(target.To)), "")),
	} {
		if k != "" {
			keys[k] = true
		}
	}
	if len(keys) == 0 {
		return nil, false
	}

	for i := range d.contacts {
		c := &d.contacts[i]
		if keys[normalize.Key(c.Name)] || keys[normalize.Key(c.Slug)] || keys[normalize.Key(c.Username)] {
			return c, true
		}
	}
	return nil, false
}

// ResolveGender: явный пол цели, затем пол из справочника, по умолчанию male
func (d *ContactDirectory) ResolveGender(target *domain.Target) string {
	if target == nil {
		return domain.GenderMale
	}
	switch g := strings.ToLower(strings.TrimSpace(target.Gender)); g {
	case domain.GenderMale, domain.GenderFemale:
		return g
	}
	if c, ok := d.Find(target); ok {
		if g := strings.ToLower(strings.TrimSpace(c.Gender)); g == domain.GenderFemale || g == domain.GenderMale {
			return g
		}
	}
	return domain.GenderMale
}

// Photo - путь к фото собеседника для заголовка чата
func (d *ContactDirectory) Photo(target *domain.Target) string {
	c, ok := d.Find(target)
	if !ok {
		return ""
	}
	photo := strings.TrimSpace(c.Photo)
	if photo == "" || remoteURL.MatchString(photo) {
		return photo
	}
	if strings.HasPrefix(photo, "../") {
		return "./" + strings.TrimPrefix(photo, "../")
	}
	return photo
}
