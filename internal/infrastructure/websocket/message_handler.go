package websocket

import (
	"context"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/logger"
)

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, frame []byte) {
	msg, err := Decode(frame)
	if err != nil {
		logger.Warn("WebSocket: Failed to unmarshal message from conn %s: %v", client.ID, err)
		m.sendErrorToClient(client, "", "Invalid message format")
		return
	}

	switch msg.Type {
	case entity.EventPing:
		m.sendToClient(client, entity.EventPong, "", nil)

	case entity.EventJoinChat:
		m.handleJoinChat(client, msg.ChatID)

	case entity.EventLeaveChat:
		if msg.ChatID == "" {
			m.sendErrorToClient(client, "", "chat_id is required")
			return
		}
		m.LeaveRoom(client, msg.ChatID)

	case entity.EventTyping:
		m.handleTyping(client, msg.ChatID)

	case entity.EventStopTyping:
		m.handleStopTyping(client, msg.ChatID)

	default:
		logger.Debug("WebSocket: Unknown message type '%s' from conn %s", msg.Type, client.ID)
		m.sendErrorToClient(client, msg.ChatID, "Unknown message type")
	}
}

func (m *Manager) handleJoinChat(client *Client, chatID string) {
	if chatID == "" {
		m.sendErrorToClient(client, "", "chat_id is required")
		return
	}

	if m.authorize != nil {
		ctx, cancel := context.WithTimeout(context.Background(), authorizeWait)
		defer cancel()

		ok, err := m.authorize(ctx, chatID, client.UserID)
		if err != nil {
			logger.Error("WebSocket: join authorization failed for user %s chat %s: %v", client.UserID, chatID, err)
			m.sendErrorToClient(client, chatID, "Unable to join chat right now")
			return
		}
		if !ok {
			m.sendErrorToClient(client, chatID, "You are not a participant in this chat")
			return
		}
	}

	m.JoinRoom(client, chatID)
	logger.Debug("WebSocket: conn %s (user %s) joined chat %s", client.ID, client.UserID, chatID)
}

// handleTyping relays the first typing signal of a burst; repeats are dropped.
func (m *Manager) handleTyping(client *Client, chatID string) {
	m.mutex.Lock()
	_, joined := client.rooms[chatID]
	_, already := client.typing[chatID]
	if joined && !already {
		client.typing[chatID] = struct{}{}
	}
	m.mutex.Unlock()

	if !joined {
		m.sendErrorToClient(client, chatID, "Join the chat before typing")
		return
	}
	if already {
		return
	}
	if m.limiter != nil {
		if ok, _ := m.limiter.Allow(client.UserID, ratelimit.ActionTyping); !ok {
			m.mutex.Lock()
			delete(client.typing, chatID)
			m.mutex.Unlock()
			return
		}
	}
	m.relayTyping(client, chatID, entity.EventTyping)
}

func (m *Manager) handleStopTyping(client *Client, chatID string) {
	m.mutex.Lock()
	_, wasTyping := client.typing[chatID]
	delete(client.typing, chatID)
	m.mutex.Unlock()

	if wasTyping {
		m.relayTyping(client, chatID, entity.EventStopTyping)
	}
}
