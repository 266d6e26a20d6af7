package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	writeWait     = 10 * time.Second
	eventsBacklog = 64
)

// Conn is a client's single gateway connection. Writes are serialized and
// decoded server frames arrive on Events until the connection closes.
type Conn struct {
	conn      *websocket.Conn
	events    chan *ws.WSMessage
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens /ws on the API at baseURL, authenticating with the same token
// the REST client uses.
func Dial(ctx context.Context, baseURL, token string) (*Conn, error) {
	target, err := socketURL(baseURL, token)
	if err != nil {
		return nil, errors.BadRequest("Invalid API URL", err)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Unauthorized("Realtime handshake rejected", err)
		}
		return nil, errors.Unavailable("Realtime gateway unreachable", err)
	}

	c := &Conn{
		conn:   conn,
		events: make(chan *ws.WSMessage, eventsBacklog),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func socketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Events is closed once the connection is gone.
func (c *Conn) Events() <-chan *ws.WSMessage {
	return c.events
}

func (c *Conn) Join(chatID string) error {
	return c.send(entity.EventJoinChat, chatID)
}

func (c *Conn) Leave(chatID string) error {
	return c.send(entity.EventLeaveChat, chatID)
}

func (c *Conn) Typing(chatID string) error {
	return c.send(entity.EventTyping, chatID)
}

func (c *Conn) StopTyping(chatID string) error {
	return c.send(entity.EventStopTyping, chatID)
}

func (c *Conn) Ping() error {
	return c.send(entity.EventPing, "")
}

func (c *Conn) send(eventType, chatID string) error {
	frame, err := ws.Encode(eventType, chatID, nil)
	if err != nil {
		return errors.Internal("Failed to encode frame", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Unavailable("Realtime connection lost", err)
	}
	return nil
}

// Close sends a close frame and tears down the socket. Safe to call twice.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.conn.Close()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Realtime: connection closed: %v", err)
			}
			return
		}

		msg, err := ws.Decode(frame)
		if err != nil {
			logger.Warn("Realtime: dropping malformed frame: %v", err)
			continue
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}
