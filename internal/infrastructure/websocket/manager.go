package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBufferSize = 256
	authorizeWait  = 5 * time.Second
	relayQueueSize = 1024
)

// JoinAuthorizer reports whether userID may join chatID's room.
type JoinAuthorizer func(ctx context.Context, chatID, userID string) (bool, error)

// Relay carries broadcasts to the other instances. Frames published by this
// instance come back through Deliver like everyone else's.
type Relay interface {
	Publish(ctx context.Context, frame RelayedFrame) error
}

type RateLimiter interface {
	Allow(userID, action string) (bool, time.Duration)
}

// Client is one realtime connection. A user may hold several.
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte

	// guarded by Manager.mutex
	rooms  map[string]struct{}
	typing map[string]struct{}
	closed bool
}

// Manager is the realtime gateway: it owns every local connection and the
// room membership used for broadcast.
type Manager struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex

	authorize JoinAuthorizer
	relay     Relay
	outbox    chan RelayedFrame
	limiter   RateLimiter
	metrics   *metrics.Metrics
}

func NewManager(authorize JoinAuthorizer) *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		authorize:  authorize,
	}
}

// WithRelay routes broadcasts through r. Frames are queued and published by
// the goroutine Start launches; a full queue falls back to local delivery.
func (m *Manager) WithRelay(r Relay) *Manager {
	m.relay = r
	m.outbox = make(chan RelayedFrame, relayQueueSize)
	return m
}

func (m *Manager) WithRateLimiter(rl RateLimiter) *Manager {
	m.limiter = rl
	return m
}

func (m *Manager) WithMetrics(mt *metrics.Metrics) *Manager {
	m.metrics = mt
	return m
}

// userRoom is the private room every connection joins on handshake.
func userRoom(userID string) string {
	return "user:" + userID
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	if m.relay != nil {
		go m.drainRelay(ctx)
	}
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client.ID] = client
				m.mutex.Unlock()
				m.metrics.ConnectionOpened()
				logger.Debug("Client registered: user %s conn %s", client.UserID, client.ID)

			case client := <-m.Unregister:
				m.remove(client)

			case <-ctx.Done():
				close(m.done)
				m.mutex.Lock()
				for _, client := range m.clients {
					client.conn.Close()
				}
				m.mutex.Unlock()
				return
			}
		}
	}()
}

// Attach wraps an upgraded connection of an authenticated user and starts its pumps.
func (m *Manager) Attach(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[string]struct{}),
		typing: make(map[string]struct{}),
	}
	m.mutex.Lock()
	m.joinLocked(client, userRoom(userID))
	m.mutex.Unlock()

	select {
	case m.Register <- client:
	case <-m.done:
		m.remove(client)
		conn.Close()
		return client
	}

	go client.writePump()
	go client.readPump(m)
	return client
}

// remove drops the client from every room, announcing stop_typing where it was
// still typing, and closes its send channel.
func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	if client.closed {
		m.mutex.Unlock()
		return
	}
	stale := make([]string, 0, len(client.typing))
	for chatID := range client.typing {
		stale = append(stale, chatID)
	}
	for room := range client.rooms {
		m.leaveLocked(client, room)
	}
	delete(m.clients, client.ID)
	client.closed = true
	close(client.send)
	m.mutex.Unlock()

	m.metrics.ConnectionClosed()
	for _, chatID := range stale {
		m.relayTyping(client, chatID, entity.EventStopTyping)
	}
	logger.Debug("Client unregistered: user %s conn %s", client.UserID, client.ID)
}

func (m *Manager) joinLocked(client *Client, room string) {
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		m.rooms[room] = members
	}
	members[client.ID] = client
	client.rooms[room] = struct{}{}
}

func (m *Manager) leaveLocked(client *Client, room string) {
	if members, ok := m.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(m.rooms, room)
		}
	}
	delete(client.rooms, room)
	delete(client.typing, room)
}

// JoinRoom is idempotent. Closed clients are ignored.
func (m *Manager) JoinRoom(client *Client, chatID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if client.closed {
		return
	}
	m.joinLocked(client, chatID)
}

// LeaveRoom is idempotent. A client leaving while typing emits stop_typing.
func (m *Manager) LeaveRoom(client *Client, chatID string) {
	m.mutex.Lock()
	_, wasTyping := client.typing[chatID]
	m.leaveLocked(client, chatID)
	m.mutex.Unlock()

	if wasTyping {
		m.relayTyping(client, chatID, entity.EventStopTyping)
	}
}

// RoomSize reports local members of a room.
func (m *Manager) RoomSize(room string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms[room])
}

func (m *Manager) ConnectionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Broadcast delivers event to every connection in chatID's room and to every
// connection of the given users, each connection at most once. It never blocks
// on a slow connection.
func (m *Manager) Broadcast(chatID, event string, payload interface{}, users ...string) {
	frame, err := Encode(event, chatID, payload)
	if err != nil {
		logger.Error("Broadcast Error: Failed to encode %s for chat %s: %v", event, chatID, err)
		return
	}
	m.metrics.Broadcast(event)
	m.publish(RelayedFrame{ChatID: chatID, Users: users, Frame: frame})
}

// publish never waits on the relay. Callers include REST handlers and the
// register loop.
func (m *Manager) publish(f RelayedFrame) {
	if m.relay == nil {
		m.Deliver(f)
		return
	}
	select {
	case m.outbox <- f:
	default:
		logger.Warn("Relay queue full for chat %s, delivering locally", f.ChatID)
		m.Deliver(f)
	}
}

func (m *Manager) drainRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-m.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := m.relay.Publish(pubCtx, f)
			cancel()
			if err != nil {
				logger.Warn("Relay publish failed for chat %s, delivering locally: %v", f.ChatID, err)
				m.Deliver(f)
			}
		}
	}
}

// Deliver hands a frame to local connections and returns how many accepted it.
func (m *Manager) Deliver(f RelayedFrame) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	targets := make(map[string]*Client)
	for id, c := range m.rooms[f.ChatID] {
		targets[id] = c
	}
	for _, userID := range f.Users {
		for id, c := range m.rooms[userRoom(userID)] {
			targets[id] = c
		}
	}
	delete(targets, f.Except)

	delivered := 0
	for _, c := range targets {
		select {
		case c.send <- f.Frame:
			delivered++
		default:
			m.metrics.FrameDropped()
			logger.Warn("Send buffer full for conn %s (user %s), dropping frame", c.ID, c.UserID)
		}
	}
	return delivered
}

func (m *Manager) sendToClient(client *Client, event, chatID string, payload interface{}) {
	frame, err := Encode(event, chatID, payload)
	if err != nil {
		logger.Error("WebSocket: Failed to encode %s: %v", event, err)
		return
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if client.closed {
		return
	}
	select {
	case client.send <- frame:
	default:
		m.metrics.FrameDropped()
	}
}

func (m *Manager) sendErrorToClient(client *Client, chatID, message string) {
	m.sendToClient(client, entity.EventError, chatID, ErrorData{Error: message})
}

// relayTyping sends typing/stop_typing to the room except the origin connection.
func (m *Manager) relayTyping(client *Client, chatID, event string) {
	frame, err := Encode(event, chatID, entity.TypingSignal{ChatID: chatID, UserID: client.UserID})
	if err != nil {
		return
	}
	m.metrics.Broadcast(event)
	m.publish(RelayedFrame{ChatID: chatID, Except: client.ID, Frame: frame})
}

// readPump processes client frames in order until the connection drops.
func (c *Client) readPump(m *Manager) {
	defer func() {
		select {
		case m.Unregister <- c:
		case <-m.done:
			m.remove(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket: read error for conn %s: %v", c.ID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		m.HandleClientMessage(c, message)
	}
}

// writePump owns all writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for conn %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
