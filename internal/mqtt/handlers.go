package mqtt

import "sync"

// MessageHandler receives every inbound broker message regardless of topic.
//
// Handlers are invoked in registration order. A panic in one handler is
// recovered and logged so it cannot block delivery to the others.
type MessageHandler func(topic string, payload []byte)

// StatusHandler is notified on every connection status transition. err is
// non-nil only when the transition was caused by a transport fault.
type StatusHandler func(status Status, err error)

// handlerRegistry is an ordered observer set returning an unsubscribe handle
// per registration.
type handlerRegistry[H any] struct {
	mu      sync.Mutex
	entries []handlerEntry[H]
	next    int
}

type handlerEntry[H any] struct {
	id int
	fn H
}

// add registers a handler and returns a function that removes it.
func (r *handlerRegistry[H]) add(fn H) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.entries = append(r.entries, handlerEntry[H]{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		for i, e := range r.entries {
			if e.id == id {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

// snapshot returns the handlers in registration order.
func (r *handlerRegistry[H]) snapshot() []H {
	r.mu.Lock()
	defer r.mu.Unlock()
	fns := make([]H, len(r.entries))
	for i, e := range r.entries {
		fns[i] = e.fn
	}
	return fns
}
