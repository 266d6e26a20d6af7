package typing

import (
	"sync"
	"time"

	"marketchat/pkg/logger"
)

const DefaultIdleTimeout = 2 * time.Second

// Emitter is where typing signals go, normally a realtime.Conn.
type Emitter interface {
	Typing(chatID string) error
	StopTyping(chatID string) error
}

type Timer interface {
	Stop() bool
}

// Clock arms inactivity timers. Tests swap in a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type chatState struct {
	typing bool
	timer  Timer
	// gen invalidates a timer that fired while a keystroke was re-arming it.
	gen uint64
}

// Coordinator turns keystrokes into one typing signal per burst and a
// stop_typing after idleTimeout of silence or an explicit send.
type Coordinator struct {
	mu          sync.Mutex
	emitter     Emitter
	clock       Clock
	idleTimeout time.Duration
	chats       map[string]*chatState
}

func NewCoordinator(emitter Emitter, idleTimeout time.Duration) *Coordinator {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Coordinator{
		emitter:     emitter,
		clock:       realClock{},
		idleTimeout: idleTimeout,
		chats:       make(map[string]*chatState),
	}
}

func (c *Coordinator) WithClock(clock Clock) *Coordinator {
	c.clock = clock
	return c
}

func (c *Coordinator) Keystroke(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.chats[chatID]
	if !ok {
		st = &chatState{}
		c.chats[chatID] = st
	}

	if !st.typing {
		st.typing = true
		c.emit(chatID, true)
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = c.clock.AfterFunc(c.idleTimeout, func() {
		c.expire(chatID, gen)
	})
}

// Sent ends the burst immediately, without waiting for the idle timer.
func (c *Coordinator) Sent(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.chats[chatID]
	if !ok || !st.typing {
		return
	}
	c.reset(st)
	c.emit(chatID, false)
}

// Cancel drops the chat's state without emitting anything. Used when the
// window closes; the gateway clears the indicator on leave.
func (c *Coordinator) Cancel(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.chats[chatID]; ok {
		c.reset(st)
		delete(c.chats, chatID)
	}
}

// Stop cancels every pending timer, e.g. on disconnect.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for chatID, st := range c.chats {
		c.reset(st)
		delete(c.chats, chatID)
	}
}

func (c *Coordinator) IsTyping(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.chats[chatID]
	return ok && st.typing
}

func (c *Coordinator) expire(chatID string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.chats[chatID]
	if !ok || st.gen != gen || !st.typing {
		return
	}
	st.typing = false
	st.timer = nil
	c.emit(chatID, false)
}

func (c *Coordinator) reset(st *chatState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.typing = false
	st.gen++
}

func (c *Coordinator) emit(chatID string, typing bool) {
	var err error
	if typing {
		err = c.emitter.Typing(chatID)
	} else {
		err = c.emitter.StopTyping(chatID)
	}
	if err != nil {
		logger.Warn("Typing: failed to signal chat %s: %v", chatID, err)
	}
}
