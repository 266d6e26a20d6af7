package session

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// API is the slice of the REST client the session layer drives.
type API interface {
	StartChat(ctx context.Context, productID string) (*usecase.ChatResponse, error)
	ListChats(ctx context.Context) ([]*usecase.ChatResponse, error)
	History(ctx context.Context, chatID string) (*usecase.HistoryResponse, error)
	SendMessage(ctx context.Context, chatID, text string) (*usecase.MessageResponse, error)
	MarkAsRead(ctx context.Context, chatID string) (*usecase.ReadResult, error)
}

// Rooms joins and leaves gateway rooms. Both calls are fire-and-forget.
type Rooms interface {
	Join(chatID string) error
	Leave(chatID string) error
}

type Typing interface {
	Keystroke(chatID string)
	Sent(chatID string)
	Cancel(chatID string)
	Stop()
}

type Notification struct {
	ChatID string
	Sender string
	Text   string
}

// Session is the window state of one chat. It outlives its window: closing
// keeps the buffer and draft for a later reopen.
type Session struct {
	ChatID     string
	Messages   []*usecase.MessageResponse
	Draft      string
	Open       bool
	PeerTyping bool

	seen map[string]struct{}
	// stale is set when messages arrived while the window was closed.
	stale  bool
	loaded bool
}

type SidebarItem struct {
	ChatID        string
	ProductTitle  string
	OtherUser     string
	LastMessage   string
	LastMessageAt time.Time
	Unread        int
}

// Manager holds every chat window of one signed-in user. It is not safe for
// concurrent use: call it only from the goroutine running Loop, or before it.
type Manager struct {
	self    string
	api     API
	rooms   Rooms
	typing  Typing
	notify  func(Notification)
	observe func(*ws.WSMessage)

	sessions map[string]*Session
	// open lists open chats, most recently focused first.
	open    []string
	sidebar []*SidebarItem
}

func NewManager(self string, api API, rooms Rooms, typing Typing) *Manager {
	return &Manager{
		self:     self,
		api:      api,
		rooms:    rooms,
		typing:   typing,
		notify:   func(Notification) {},
		observe:  func(*ws.WSMessage) {},
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) OnNotification(f func(Notification)) *Manager {
	m.notify = f
	return m
}

// OnEvent is called after every realtime frame has been applied.
func (m *Manager) OnEvent(f func(*ws.WSMessage)) *Manager {
	m.observe = f
	return m
}

// SetRooms swaps the realtime connection after a reconnect. Call Resync next.
func (m *Manager) SetRooms(rooms Rooms) {
	m.rooms = rooms
}

// LoadSidebar replaces the sidebar with the server's chat list.
func (m *Manager) LoadSidebar(ctx context.Context) error {
	chats, err := m.api.ListChats(ctx)
	if err != nil {
		return err
	}

	items := make([]*SidebarItem, 0, len(chats))
	for _, c := range chats {
		items = append(items, sidebarItem(c))
	}
	m.sidebar = items
	m.sortSidebar()
	return nil
}

// StartChat finds or creates the chat about productID and opens it.
func (m *Manager) StartChat(ctx context.Context, productID string) (*usecase.ChatResponse, error) {
	chat, err := m.api.StartChat(ctx, productID)
	if err != nil {
		return nil, err
	}
	if m.item(chat.ID) == nil {
		m.sidebar = append(m.sidebar, sidebarItem(chat))
		m.sortSidebar()
	}
	return chat, m.OpenChat(ctx, chat.ID)
}

// OpenChat focuses chatID, creating its session on first open, joins its
// room and marks it read. The sidebar badge drops to zero before the server
// confirms.
func (m *Manager) OpenChat(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.Validation("chat id is required")
	}

	s := m.session(chatID)
	s.Open = true
	m.focus(chatID)

	if item := m.item(chatID); item != nil {
		item.Unread = 0
	}

	if err := m.rooms.Join(chatID); err != nil {
		logger.Warn("OpenChat: join %s failed: %v", chatID, err)
	}

	if !s.loaded || s.stale {
		if err := m.refresh(ctx, s); err != nil {
			return err
		}
	}

	m.markAsRead(ctx, chatID)
	return nil
}

// CloseChat leaves the room and hides the window. Buffer and draft stay.
func (m *Manager) CloseChat(chatID string) {
	s, ok := m.sessions[chatID]
	if !ok || !s.Open {
		return
	}

	if err := m.rooms.Leave(chatID); err != nil {
		logger.Warn("CloseChat: leave %s failed: %v", chatID, err)
	}
	m.typing.Cancel(chatID)

	s.Open = false
	s.PeerTyping = false
	for i, id := range m.open {
		if id == chatID {
			m.open = append(m.open[:i], m.open[i+1:]...)
			break
		}
	}
}

// UpdateDraft is a local edit. Non-empty text counts as a keystroke.
func (m *Manager) UpdateDraft(chatID, text string) {
	s := m.session(chatID)
	s.Draft = text
	if text != "" && s.Open {
		m.typing.Keystroke(chatID)
	}
}

// Send posts the current draft. On failure the draft is kept so nothing is
// lost; the caller decides whether to retry, which may duplicate the message.
func (m *Manager) Send(ctx context.Context, chatID string) (*usecase.MessageResponse, error) {
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, errors.Validation("chat is not open")
	}
	if strings.TrimSpace(s.Draft) == "" {
		return nil, errors.Validation("message text must not be empty")
	}

	m.typing.Sent(chatID)

	msg, err := m.api.SendMessage(ctx, chatID, s.Draft)
	if err != nil {
		return nil, err
	}

	s.Draft = ""
	s.append(msg)
	m.touch(chatID, msg.Message, "")
	return msg, nil
}

// HandleEvent applies one realtime frame.
func (m *Manager) HandleEvent(ctx context.Context, msg *ws.WSMessage) {
	defer m.observe(msg)

	switch msg.Type {
	case entity.EventReceiveMessage:
		var resp usecase.MessageResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil || resp.Message == nil {
			logger.Warn("Session: malformed receive_message: %v", err)
			return
		}
		m.receive(ctx, &resp)

	case entity.EventTyping, entity.EventStopTyping:
		var signal entity.TypingSignal
		if err := json.Unmarshal(msg.Data, &signal); err != nil {
			logger.Warn("Session: malformed %s: %v", msg.Type, err)
			return
		}
		if signal.UserID == m.self {
			return
		}
		if s, ok := m.sessions[signal.ChatID]; ok && s.Open {
			s.PeerTyping = msg.Type == entity.EventTyping
		}

	case entity.EventMessagesRead:
		var receipt entity.ReadReceipt
		if err := json.Unmarshal(msg.Data, &receipt); err != nil {
			logger.Warn("Session: malformed messages_read: %v", err)
			return
		}
		m.readBy(receipt)

	case entity.EventError:
		var data ws.ErrorData
		json.Unmarshal(msg.Data, &data)
		logger.Warn("Session: gateway error on chat %s: %s", msg.ChatID, data.Error)

	case entity.EventPong:
	default:
		logger.Debug("Session: ignoring event %s", msg.Type)
	}
}

func (m *Manager) receive(ctx context.Context, resp *usecase.MessageResponse) {
	chatID := resp.ChatID
	sender := resp.SenderID
	if resp.Sender != nil {
		sender = resp.Sender.Name
	}

	s, ok := m.sessions[chatID]
	if ok && s.Open {
		s.append(resp)
		m.touch(chatID, resp.Message, sender)
		if resp.SenderID != m.self {
			m.markAsRead(ctx, chatID)
		}
		return
	}

	if ok {
		s.stale = true
	}
	m.touch(chatID, resp.Message, sender)
	if resp.SenderID == m.self {
		return
	}
	if item := m.item(chatID); item != nil {
		item.Unread++
	}
	m.notify(Notification{ChatID: chatID, Sender: sender, Text: resp.Text})
}

// readBy flips our own messages in an open window once the other side read them.
func (m *Manager) readBy(receipt entity.ReadReceipt) {
	if receipt.ReaderID == m.self {
		return
	}
	s, ok := m.sessions[receipt.ChatID]
	if !ok || !s.Open {
		return
	}
	for _, msg := range s.Messages {
		if msg.SenderID == m.self {
			msg.Read = true
		}
	}
}

// Disconnected clears transient realtime state after the socket drops.
func (m *Manager) Disconnected() {
	m.typing.Stop()
	for _, s := range m.sessions {
		s.PeerTyping = false
	}
}

// Resync reconciles after a reconnect: there is no replay, so the sidebar and
// every open window are refetched and rooms rejoined.
func (m *Manager) Resync(ctx context.Context) error {
	if err := m.LoadSidebar(ctx); err != nil {
		return err
	}
	for _, chatID := range m.open {
		if err := m.rooms.Join(chatID); err != nil {
			logger.Warn("Resync: join %s failed: %v", chatID, err)
		}
		if err := m.refresh(ctx, m.sessions[chatID]); err != nil {
			return err
		}
		if item := m.item(chatID); item != nil {
			item.Unread = 0
		}
	}
	for _, s := range m.sessions {
		if !s.Open {
			s.stale = true
		}
	}
	return nil
}

// Loop applies realtime events and queued actions in arrival order until ctx
// ends or the event stream closes.
func (m *Manager) Loop(ctx context.Context, events <-chan *ws.WSMessage, actions <-chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				m.Disconnected()
				return
			}
			m.HandleEvent(ctx, msg)
		case action := <-actions:
			action()
		}
	}
}

func (m *Manager) Session(chatID string) (Session, bool) {
	s, ok := m.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	cp := *s
	cp.Messages = make([]*usecase.MessageResponse, len(s.Messages))
	for i, msg := range s.Messages {
		cp.Messages[i] = copyMessage(msg)
	}
	cp.seen = nil
	return cp, true
}

func (m *Manager) OpenChats() []string {
	return append([]string(nil), m.open...)
}

func (m *Manager) Sidebar() []SidebarItem {
	out := make([]SidebarItem, len(m.sidebar))
	for i, item := range m.sidebar {
		out[i] = *item
	}
	return out
}

func (m *Manager) session(chatID string) *Session {
	s, ok := m.sessions[chatID]
	if !ok {
		s = &Session{ChatID: chatID, seen: make(map[string]struct{})}
		m.sessions[chatID] = s
	}
	return s
}

func (m *Manager) focus(chatID string) {
	for i, id := range m.open {
		if id == chatID {
			m.open = append(m.open[:i], m.open[i+1:]...)
			break
		}
	}
	m.open = append([]string{chatID}, m.open...)
}

func (m *Manager) refresh(ctx context.Context, s *Session) error {
	history, err := m.api.History(ctx, s.ChatID)
	if err != nil {
		return err
	}
	for _, msg := range history.Messages {
		if _, dup := s.seen[msg.ID]; dup {
			s.update(msg)
			continue
		}
		s.append(msg)
	}
	sort.SliceStable(s.Messages, func(i, j int) bool {
		return s.Messages[i].CreatedAt.Before(s.Messages[j].CreatedAt)
	})
	s.loaded = true
	s.stale = false

	if history.Chat != nil && m.item(s.ChatID) == nil {
		m.sidebar = append(m.sidebar, sidebarItem(history.Chat))
		m.sortSidebar()
	}
	return nil
}

// markAsRead is idempotent, so one quiet retry is all a failure gets.
func (m *Manager) markAsRead(ctx context.Context, chatID string) {
	if _, err := m.api.MarkAsRead(ctx, chatID); err != nil {
		if _, err = m.api.MarkAsRead(ctx, chatID); err != nil {
			logger.Warn("MarkAsRead Error: chat %s: %v", chatID, err)
		}
	}
}

// touch moves a chat's preview forward and keeps the sidebar ordered.
func (m *Manager) touch(chatID string, msg *entity.Message, sender string) {
	item := m.item(chatID)
	if item == nil {
		item = &SidebarItem{ChatID: chatID}
		if msg.SenderID != m.self {
			item.OtherUser = sender
		}
		m.sidebar = append(m.sidebar, item)
	}
	if msg.CreatedAt.Before(item.LastMessageAt) {
		return
	}
	item.LastMessage = msg.Text
	item.LastMessageAt = msg.CreatedAt
	m.sortSidebar()
}

func (m *Manager) item(chatID string) *SidebarItem {
	for _, item := range m.sidebar {
		if item.ChatID == chatID {
			return item
		}
	}
	return nil
}

func (m *Manager) sortSidebar() {
	sort.SliceStable(m.sidebar, func(i, j int) bool {
		return m.sidebar[i].LastMessageAt.After(m.sidebar[j].LastMessageAt)
	})
}

func (s *Session) append(msg *usecase.MessageResponse) {
	if _, dup := s.seen[msg.ID]; dup {
		return
	}
	s.seen[msg.ID] = struct{}{}
	s.Messages = append(s.Messages, copyMessage(msg))
}

// update takes the server's read flag for a message already buffered.
func (s *Session) update(msg *usecase.MessageResponse) {
	for _, existing := range s.Messages {
		if existing.ID == msg.ID {
			existing.Read = existing.Read || msg.Read
			return
		}
	}
}

func copyMessage(msg *usecase.MessageResponse) *usecase.MessageResponse {
	cp := *msg
	if msg.Message != nil {
		inner := *msg.Message
		cp.Message = &inner
	}
	return &cp
}

func sidebarItem(c *usecase.ChatResponse) *SidebarItem {
	item := &SidebarItem{
		ChatID:        c.ID,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		Unread:        c.Unread,
	}
	if c.Product != nil {
		item.ProductTitle = c.Product.Title
	}
	if c.OtherUser != nil {
		item.OtherUser = c.OtherUser.Name
	}
	return item
}
