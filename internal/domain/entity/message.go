package entity

import (
	"strings"
	"time"

	"marketchat/pkg/errors"
)

const MaxMessageLength = 4000

type Message struct {
	ID        string    `json:"id" firestore:"id"`
	ChatID    string    `json:"chat_id" firestore:"chatId"`
	SenderID  string    `json:"sender_id" firestore:"senderId"`
	Text      string    `json:"text" firestore:"text"`
	Read      bool      `json:"read" firestore:"read"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// NewMessage validates text and returns an unread, unsaved message.
func NewMessage(chatID, senderID, text string) (*Message, error) {
	if chatID == "" || senderID == "" {
		return nil, errors.Validation("chat and sender are required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.Validation("message text must not be empty")
	}
	if len(text) > MaxMessageLength {
		return nil, errors.Validation("message text is too long")
	}

	return &Message{
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}, nil
}
