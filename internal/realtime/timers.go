package realtime

import (
	"sync"
	"time"
)

// typingTTL is how long a typing indicator stays up without a refresh.
const typingTTL = 3 * time.Second

// expiryTimer is the subset of *time.Timer the tracker needs; tests swap in
// a virtual-time implementation.
type expiryTimer interface {
	Stop() bool
}

// timerFactory schedules fn after d. Defaults to time.AfterFunc.
type timerFactory func(d time.Duration, fn func()) expiryTimer

func afterFunc(d time.Duration, fn func()) expiryTimer {
	return time.AfterFunc(d, fn)
}

type typingKey struct {
	conversationID string
	userID         string
}

type armedTimer struct {
	timer expiryTimer
}

// typingTimers tracks one expiry countdown per (conversation, user). Arming
// an existing key cancels the prior timer first, so a refreshed typing-start
// restarts the window instead of stacking timers.
type typingTimers struct {
	ttl      time.Duration
	newTimer timerFactory
	onExpire func(conversationID, userID string)

	mu     sync.Mutex
	timers map[typingKey]*armedTimer
}

func newTypingTimers(onExpire func(conversationID, userID string)) *typingTimers {
	return &typingTimers{
		ttl:      typingTTL,
		newTimer: afterFunc,
		onExpire: onExpire,
		timers:   make(map[typingKey]*armedTimer),
	}
}

// arm (re)starts the countdown for a key. Any prior timer for the same key
// is cancelled first (debounce, never multiple timers).
func (t *typingTimers) arm(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	entry := &armedTimer{}

	t.mu.Lock()
	if prior, ok := t.timers[key]; ok {
		prior.timer.Stop()
	}
	t.timers[key] = entry
	entry.timer = t.newTimer(t.ttl, func() { t.fire(key, entry) })
	t.mu.Unlock()
}

// cancel stops and removes the countdown for a key, if any.
func (t *typingTimers) cancel(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	if entry, ok := t.timers[key]; ok {
		entry.timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
}

// cancelAll stops every pending countdown.
func (t *typingTimers) cancelAll() {
	t.mu.Lock()
	for key, entry := range t.timers {
		entry.timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
}

// fire runs when a countdown elapses. A timer replaced by a newer arm for
// the same key may still fire on a race; the identity check drops it.
func (t *typingTimers) fire(key typingKey, entry *armedTimer) {
	t.mu.Lock()
	current, ok := t.timers[key]
	if !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	t.onExpire(key.conversationID, key.userID)
}
