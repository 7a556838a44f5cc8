package messaging

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Message is a persisted message. Only Read changes after append.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
	BroadcastID    string    `json:"broadcast_id,omitempty"`
}

// Before reports whether m sorts before o within one conversation.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}

// NormalizeBody trims surrounding whitespace and enforces length limits.
func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", opErr("validate", ErrValidation, "empty body", nil)
	}
	if !utf8.ValidString(body) {
		return "", opErr("validate", ErrValidation, "body is not valid utf-8", nil)
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyChars {
		return "", opErr("validate", ErrValidation, fmt.Sprintf("body too long: max=%d chars", MaxBodyChars), nil)
	}
	return body, nil
}
