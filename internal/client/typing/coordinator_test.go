package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualTimer struct {
	clock    *manualClock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Typing(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "typing:"+chatID)
	return nil
}

func (r *recorder) StopTyping(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "stop_typing:"+chatID)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newCoordinator() (*Coordinator, *recorder, *manualClock) {
	rec := &recorder{}
	clock := newManualClock()
	return NewCoordinator(rec, 2*time.Second).WithClock(clock), rec, clock
}

func TestBurstEmitsOneTypingAndOneStop(t *testing.T) {
	c, rec, clock := newCoordinator()

	for i := 0; i < 10; i++ {
		c.Keystroke("c1")
		clock.Advance(150 * time.Millisecond)
	}
	assert.Equal(t, []string{"typing:c1"}, rec.got())
	assert.True(t, c.IsTyping("c1"))

	// 150ms have passed since the last keystroke
	clock.Advance(1800 * time.Millisecond)
	assert.Equal(t, []string{"typing:c1"}, rec.got(), "timer restarts on every keystroke")

	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"typing:c1", "stop_typing:c1"}, rec.got())
	assert.False(t, c.IsTyping("c1"))

	clock.Advance(10 * time.Second)
	assert.Len(t, rec.got(), 2)
}

func TestSentStopsImmediately(t *testing.T) {
	c, rec, clock := newCoordinator()

	c.Keystroke("c1")
	c.Keystroke("c1")
	c.Sent("c1")
	assert.Equal(t, []string{"typing:c1", "stop_typing:c1"}, rec.got())

	// the old timer must not produce a second stop
	clock.Advance(5 * time.Second)
	assert.Len(t, rec.got(), 2)

	c.Sent("c1")
	assert.Len(t, rec.got(), 2)
}

func TestNewBurstAfterIdle(t *testing.T) {
	c, rec, clock := newCoordinator()

	c.Keystroke("c1")
	clock.Advance(2 * time.Second)
	c.Keystroke("c1")
	clock.Advance(2 * time.Second)

	assert.Equal(t, []string{"typing:c1", "stop_typing:c1", "typing:c1", "stop_typing:c1"}, rec.got())
}

func TestChatsAreIndependent(t *testing.T) {
	c, rec, clock := newCoordinator()

	c.Keystroke("c1")
	clock.Advance(time.Second)
	c.Keystroke("c2")
	clock.Advance(time.Second)

	assert.Equal(t, []string{"typing:c1", "typing:c2", "stop_typing:c1"}, rec.got())
	assert.True(t, c.IsTyping("c2"))

	clock.Advance(time.Second)
	assert.Equal(t, "stop_typing:c2", rec.got()[3])
}

func TestCancelAndStopSuppressPendingTimers(t *testing.T) {
	c, rec, clock := newCoordinator()

	c.Keystroke("c1")
	c.Keystroke("c2")
	c.Cancel("c1")
	clock.Advance(time.Second)
	c.Stop()
	clock.Advance(5 * time.Second)

	assert.Equal(t, []string{"typing:c1", "typing:c2"}, rec.got())
	assert.False(t, c.IsTyping("c1"))
	assert.False(t, c.IsTyping("c2"))
}
