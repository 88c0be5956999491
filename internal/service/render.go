package service

import (
	"time"

	"matrimony_chat/internal/domain"
	"matrimony_chat/internal/normalize"
)

const (
	timeLabelLayout = "15:04"
	unknownSender   = "Unknown"
	previewRunes    = 44
)

// RenderRows переводит ленту в строки отображения.
// isMine считается по identity на момент рендера, а не получения сообщения
func RenderRows(messages []*domain.Message, myIdentity string, loc *time.Location) []domain.MessageRow {
	if loc == nil {
		loc = time.Local
	}
	mine := normalize.Identity(myIdentity)

	rows := make([]domain.MessageRow, 0, len(messages))
	for _, m := range messages {
		sender := m.Sender
		if sender == "" {
			sender = unknownSender
		}
		isMine := mine != "" && normalize.Identity(m.Sender) == mine

		text := m.Text
		if m.Redacted {
			text = domain.UnsentByOtherText
			if isMine {
				text = domain.UnsentByMeText
			}
		}

		var label string
		if m.TimestampMs > 0 {
			label = m.Time().In(loc).Format(timeLabelLayout)
		}

		rows = append(rows, domain.MessageRow{
			ID:          m.ID,
			Sender:      sender,
			DisplayText: text,
			TimeLabel:   label,
			IsMine:      isMine,
			IsRedacted:  m.Redacted,
			IsBot:       m.IsBot,
		})
	}
	return rows
}

// LastMessagePreview - превью последнего сообщения для списка недавних
func LastMessagePreview(messages []*domain.Message) (string, int64, bool) {
	if len(messages) == 0 {
		return "", 0, false
	}
	last := messages[len(messages)-1]
	sender := last.Sender
	if sender == "" {
		sender = "User"
	}
	text := last.Text
	if last.Redacted {
		text = domain.UnsentPreviewText
	}
	return sender + ": " + normalize.Truncate(text, previewRunes), last.TimestampMs, true
}

// SentPreview - превью собственного отправленного сообщения
func SentPreview(text string) string {
	return "You: " + normalize.Truncate(text, previewRunes)
}
