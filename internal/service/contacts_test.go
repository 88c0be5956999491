package service

import (
	"os"
	"path/filepath"
	"testing"

	"matrimony_chat/internal/domain"
	"matrimony_chat/pkg/logger"
)

const contactsYAML = `contacts:
  - name: Priya Sharma
    slug: priya-sharma
    username: priya
    gender: female
    photo: ../images/priya.jpg
  - name: Rahul Verma
    slug: rahul
    gender: male
    photo: https://cdn.example.com/rahul.jpg
  - name: Kiran
    slug: kiran
`

func TestLoadContacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	if err := os.WriteFile(path, []byte(contactsYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	dir, err := LoadContacts(path, logger.Nop())
	if err != nil {
		t.Fatalf("LoadContacts: %v", err)
	}
	if dir.Len() != 3 {
		t.Fatalf("Len = %d", dir.Len())
	}

	cases := []struct {
		name   string
		target *domain.Target
		gender string
		photo  string
	}{
		{"by name", &domain.Target{Name: "priya sharma"}, "female", "./images/priya.jpg"},
		{"by example id", &domain.Target{To: "example-priya-sharma"}, "female", "./images/priya.jpg"},
		{"remote photo", &domain.Target{To: "rahul"}, "male", "https://cdn.example.com/rahul.jpg"},
		{"explicit gender wins", &domain.Target{To: "rahul", Gender: "Female"}, "female", "https://cdn.example.com/rahul.jpg"},
		{"no gender in file", &domain.Target{To: "kiran"}, "male", ""},
		{"unknown", &domain.Target{To: "nobody"}, "male", ""},
		{"nil target", nil, "male", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dir.ResolveGender(tc.target); got != tc.gender {
				t.Errorf("gender = %q, want %q", got, tc.gender)
			}
			if got := dir.Photo(tc.target); got != tc.photo {
				t.Errorf("photo = %q, want %q", got, tc.photo)
			}
		})
	}
}

func TestLoadContactsErrors(t *testing.T) {
	dir, err := LoadContacts("", logger.Nop())
	if err != nil || dir.Len() != 0 {
		t.Fatalf("empty path = %v, %v", dir, err)
	}
	if _, err := LoadContacts(filepath.Join(t.TempDir(), "missing.yaml"), logger.Nop()); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("contacts: [unterminated"), 0o600)
	if _, err := LoadContacts(bad, logger.Nop()); err == nil {
		t.Fatal("expected parse error")
	}
}
