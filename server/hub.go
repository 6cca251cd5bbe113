package server

import (
	"slices"
	"sync"
)

// Topics signalled through the hub.
const (
	topicBatches = "batches"
	topicMouse   = "mouse"
	topicKeys    = "keys"
)

// waiter is one long-poll request waiting on a topic.
type waiter struct {
	topic  string
	signal chan struct{}
}

// hub wakes long-poll requests when something they wait on changes. A waiter
// must subscribe before checking for data so that no signal is lost between
// the check and the wait.
type hub struct {
	mu      sync.Mutex
	waiters map[string][]*waiter
}

func newHub() *hub {
	return &hub{waiters: make(map[string][]*waiter)}
}

func (h *hub) subscribe(topic string) *waiter {
	w := &waiter{topic: topic, signal: make(chan struct{}, 1)}
	h.mu.Lock()
	h.waiters[topic] = append(h.waiters[topic], w)
	h.mu.Unlock()
	return w
}

func (h *hub) unsubscribe(w *waiter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[w.topic]
	if i := slices.Index(ws, w); i >= 0 {
		h.waiters[w.topic] = slices.Delete(ws, i, i+1)
	}
}

// signal wakes every waiter on topic. Waiters that have not yet consumed an
// earlier signal are not signalled twice.
func (h *hub) signal(topic string) {
	h.mu.Lock()
	ws := slices.Clone(h.waiters[topic])
	h.mu.Unlock()
	for _, w := range ws {
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

// waiting returns the number of waiters on topic.
func (h *hub) waiting(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[topic])
}
