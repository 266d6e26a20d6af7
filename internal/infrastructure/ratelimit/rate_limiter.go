package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	ActionSendMessage = "send_message"
	ActionCreateChat  = "create_chat"
	ActionTyping      = "typing"
	ActionConnect     = "ws_connect"
)

// Rule describes one bucket shape: Burst tokens, refilled by one every Every.
type Rule struct {
	Burst int
	Every time.Duration
}

// DefaultRules mirrors the marketplace limits for the chat actions.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ActionSendMessage: {Burst: 10, Every: 6 * time.Second},
		ActionCreateChat:  {Burst: 5, Every: 12 * time.Minute},
		ActionTyping:      {Burst: 30, Every: 2 * time.Second},
		ActionConnect:     {Burst: 20, Every: 3 * time.Second},
	}
}

var fallbackRule = Rule{Burst: 20, Every: 3 * time.Second}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillTime time.Duration
	lastRefill time.Time
	lastUsed   time.Time
	mutex      sync.Mutex
}

func newTokenBucket(rule Rule, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     rule.Burst,
		maxTokens:  rule.Burst,
		refillTime: rule.Every,
		lastRefill: now,
		lastUsed:   now,
	}
}

// allow consumes a token if one is available, otherwise reports the wait until the next refill.
func (tb *TokenBucket) allow(now time.Time) (bool, time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.lastUsed = now
	if elapsed := now.Sub(tb.lastRefill); elapsed >= tb.refillTime {
		refills := int(elapsed / tb.refillTime)
		tb.tokens += refills
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = tb.lastRefill.Add(time.Duration(refills) * tb.refillTime)
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}
	return false, tb.lastRefill.Add(tb.refillTime).Sub(now)
}

func (tb *TokenBucket) idleSince(now time.Time) time.Duration {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return now.Sub(tb.lastUsed)
}

// RateLimiter manages rate limiting for different users and actions
type RateLimiter struct {
	rules   map[string]Rule
	buckets map[string]*TokenBucket
	mutex   sync.RWMutex
	now     func() time.Time
}

// NewRateLimiter builds a limiter; nil rules means DefaultRules.
func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RateLimiter{
		rules:   rules,
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
	}
}

// Allow checks if a user action is allowed
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		if bucket, exists = rl.buckets[key]; !exists {
			rule, ok := rl.rules[action]
			if !ok {
				rule = fallbackRule
			}
			bucket = newTokenBucket(rule, now)
			rl.buckets[key] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.allow(now)
}

// Cleanup removes buckets that haven't been touched for maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for key, bucket := range rl.buckets {
		if bucket.idleSince(now) > maxIdle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine prunes idle buckets every 30 minutes until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			}
		}
	}()
}
