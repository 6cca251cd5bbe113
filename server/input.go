package server

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// maxQueuedEvents bounds each input queue; the oldest events are dropped
// when nobody drains it.
const maxQueuedEvents = 1024

// eventQueue buffers input events until a reporter drains them.
type eventQueue struct {
	hub   *hub
	topic string

	mu     sync.Mutex
	events []string
}

func newEventQueue(h *hub, topic string) *eventQueue {
	return &eventQueue{hub: h, topic: topic}
}

func (q *eventQueue) push(ev string) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	if over := len(q.events) - maxQueuedEvents; over > 0 {
		q.events = q.events[over:]
	}
	q.mu.Unlock()
	q.hub.signal(q.topic)
}

func (q *eventQueue) take() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := q.events
	q.events = nil
	return evs
}

// wait blocks until at least one event is queued, then drains the queue.
func (q *eventQueue) wait(ctx context.Context) ([]string, error) {
	w := q.hub.subscribe(q.topic)
	defer q.hub.unsubscribe(w)
	for {
		if evs := q.take(); len(evs) > 0 {
			return evs, nil
		}
		select {
		case <-w.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func formatMove(x, y int) string {
	return fmt.Sprintf("(%d, %d)", x, y)
}

func formatClick(button int) string {
	switch button {
	case 0:
		return "left click"
	case 1:
		return "middle click"
	case 2:
		return "right click"
	default:
		return "unknown click code"
	}
}

func formatKey(key string, shift, ctrl, alt bool) string {
	return fmt.Sprintf("(%s, %s, %s, %s)", strconv.Quote(key),
		strconv.FormatBool(shift), strconv.FormatBool(ctrl), strconv.FormatBool(alt))
}
