package service

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
)

var (
	hobbyKeywords = []string{
		"hobby",
		"hobbies",
		"what are your hobbies",
		"what is your hobby",
		"your hobbies",
		"your hobby",
	}

	greetingReplies = []string{
		"Hey! Nice to hear from you 🙂",
		"Hi there! What's up?",
		"Hello! How's your day going?",
	}
	howAreYouReplies = []string{
		"I'm doing great, thanks for asking!",
		"All good here 🙂 How about you?",
		"I'm good! Tell me about your day.",
	}
	questionReplies = []string{
		"Why do you think that?",
		"That's a good question.",
		"Interesting question — what do you feel?",
	}
	friendlyReplies = []string{
		"That's interesting, tell me more!",
		"Really? I'd love to know more.",
		"Haha nice 🙂",
		"Why do you think that?",
	}
)

const (
	femaleHobbiesReply = "My hobbies are dancing and painting"
	maleHobbiesReply   = "My hobbies are cricket and football"
	fallbackReply      = "Okay 🙂"
)

// Responder - правила автоответа собеседника. Помнит последний ответ, чтобы не повторяться
type Responder struct {
	mu   sync.Mutex
	last string
	rnd  *rand.Rand
}

func NewResponder(seed int64) *Responder {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Responder{rnd: rand.New(rand.NewSource(seed))}
}

// BuildReply: первое сработавшее правило - хобби, приветствие, "how are you", вопрос, иначе дружелюбный ответ
func (r *Responder) BuildReply(userText, receiverGender string) string {
	text := normalize.Identity(userText)

	if isHobbiesQuestion(text) {
		if strings.EqualFold(strings.TrimSpace(receiverGender), domain.GenderFemale) {
			return femaleHobbiesReply
		}
		return maleHobbiesReply
	}

	switch {
	case strings.Contains(text, "hi") || strings.Contains(text, "hello") || strings.Contains(text, "hey"):
		return r.pick(greetingReplies)
	case strings.Contains(text, "how are you"):
		return r.pick(howAreYouReplies)
	case strings.Contains(text, "why") || strings.HasSuffix(text, "?"):
		return r.pick(questionReplies)
	default:
		return r.pick(friendlyReplies)
	}
}

func (r *Responder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// pick выбирает случайный ответ, исключая предыдущий; если исключать нечего - из всего набора
func (r *Responder) pick(replies []string) string {
	if len(replies) == 0 {
		return fallbackReply
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pool := make([]string, 0, len(replies))
	for _, reply := range replies {
		if reply != r.last {
			pool = append(pool, reply)
		}
	}
	if len(pool) == 0 {
		pool = replies
	}

	picked := pool[r.rnd.Intn(len(pool))]
	r.last = picked
	return picked
}

func isHobbiesQuestion(text string) bool {
	if text == "" {
		return false
	}
	for _, word := range hobbyKeywords {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}
