package entity

// Realtime event names shared by the gateway, the chat service and the client SDK.
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
	EventReceiveMessage = "receive_message"
	EventMessagesRead   = "messages_read"
	EventPing           = "ping"
	EventPong           = "pong"
	EventError          = "error"
)

// ReadReceipt is the messages_read payload: readerID has read everything the other side sent.
type ReadReceipt struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
}

type TypingSignal struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}
