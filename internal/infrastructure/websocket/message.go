package websocket

import (
	"encoding/json"
	"time"
)

// WSMessage is the JSON text frame exchanged in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type ErrorData struct {
	Error string `json:"error"`
}

// Encode builds a frame for eventType with payload marshalled as data.
func Encode(eventType, chatID string, payload interface{}) ([]byte, error) {
	msg := WSMessage{
		Type:      eventType,
		ChatID:    chatID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// Decode parses an incoming frame.
func Decode(frame []byte) (*WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RelayedFrame is a broadcast as it travels between instances. Except names a
// connection that must not receive it; Users adds the private rooms of those users.
type RelayedFrame struct {
	ChatID string          `json:"chat_id"`
	Users  []string        `json:"users,omitempty"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}
