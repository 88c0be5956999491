// Package normalize holds the string reductions shared by room ids, recents
// keys and username reservation.
package normalize

import (
	"regexp"
	"strings"
)

const (
	// MaxTokenLength bounds a single room id component.
	MaxTokenLength = 40
	// DefaultToken replaces a component that reduces to nothing.
	DefaultToken = "user"

	maxUsernameLength = 20
)

var (
	unsafeRun   = regexp.MustCompile(`[^a-z0-9]+`)
	nonAlnum    = regexp.MustCompile(`[^a-z0-9]`)
	emailSplits = regexp.MustCompile(`[._-]+`)
)

// Identity returns the comparison form of an identity: trimmed and lower-cased.
func Identity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Equal reports whether two identities name the same party.
func Equal(a, b string) bool {
	return Identity(a) == Identity(b)
}

// SafeToken reduces s to a non-empty token over [a-z0-9_] of at most 40 chars.
func SafeToken(s string) string {
	out := unsafeRun.ReplaceAllString(Identity(s), "_")
	out = strings.Trim(out, "_")
	if len(out) > MaxTokenLength {
		out = out[:MaxTokenLength]
	}
	if out == "" {
		return DefaultToken
	}
	return out
}

// Key strips everything but [a-z0-9]. Used to match contacts and recents.
func Key(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// EmailLocalPart returns the part before '@', or "" when s is not an email.
func EmailLocalPart(s string) string {
	s = strings.TrimSpace(s)
	at := strings.Index(s, "@")
	if at < 0 {
		return ""
	}
	return strings.TrimSpace(s[:at])
}

// UsernameFromEmail derives a reservation candidate from the first token of
// the email local part: [a-z0-9], not starting with a digit, max 20 chars.
func UsernameFromEmail(email string) string {
	local := EmailLocalPart(email)
	if local == "" {
		return ""
	}
	first := local
	for _, part := range emailSplits.Split(local, -1) {
		if part != "" {
			first = part
			break
		}
	}
	return UsernameBase(first)
}

// UsernameBase cleans an arbitrary string into a username candidate.
func UsernameBase(s string) string {
	cleaned := Key(strings.TrimSpace(s))
	if cleaned == "" {
		cleaned = DefaultToken
	}
	if cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "u" + cleaned
	}
	if len(cleaned) > maxUsernameLength {
		cleaned = cleaned[:maxUsernameLength]
	}
	return cleaned
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
