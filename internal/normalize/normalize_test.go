package normalize

import (
	"regexp"
	"strings"
	"testing"
)

func TestIdentity(t *testing.T) {
	in := "  Alice.SMITH@Example.COM  "
	want := "alice.smith@example.com"
	if got := Identity(in); got != want {
		t.Fatalf("Identity(%q) = %q, want %q", in, got, want)
	}
	if !Equal("Bob ", " bob") {
		t.Fatalf("expected case/whitespace-insensitive equality")
	}
}

func TestSafeToken(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"bob.smith", "bob_smith"},
		{"  Bob...Smith!! ", "bob_smith"},
		{"__x__", "x"},
		{"", "user"},
		{"!!!", "user"},
		{"Приве́т", "user"},
		{"José", "jos"},
		{strings.Repeat("a", 60), strings.Repeat("a", 40)},
	}
	for _, tc := range cases {
		if got := SafeToken(tc.in); got != tc.want {
			t.Errorf("SafeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSafeTokenAlphabet(t *testing.T) {
	re := regexp.MustCompile(`^[a-z0-9_]{1,40}$`)
	inputs := []string{
		"", " ", "a b c", "💍💍", "UPPER lower 123", "-_-", "a@b.c",
		strings.Repeat("x y ", 30), "日本語テキスト", "\t\n", "o'neil",
	}
	for _, in := range inputs {
		got := SafeToken(in)
		if !re.MatchString(got) {
			t.Errorf("SafeToken(%q) = %q does not match %s", in, got, re)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("Example-Priya_Sharma 2"); got != "examplepriyasharma2" {
		t.Fatalf("Key = %q", got)
	}
}

func TestUsernameFromEmail(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"priya.sharma@example.com", "priya"},
		{"123abc@example.com", "u123abc"},
		{"no-at-sign", ""},
		{"___@example.com", "user"},
		{"averyveryverylongusernamehere@x.io", "averyveryverylonguse"},
	}
	for _, tc := range cases {
		if got := UsernameFromEmail(tc.in); got != tc.want {
			t.Errorf("UsernameFromEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("hi", 10); got != "hi" {
		t.Fatalf("Truncate = %q", got)
	}
}
