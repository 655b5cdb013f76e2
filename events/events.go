// Package events fans accepted points out to live listeners such as the websocket feed.
package events

import (
	"sync"

	"livechart/models"
)

const SUBSCRIBER_BUFFER = 64

// Event is emitted for every point accepted into the store.
type Event struct {
	Key   string
	Point models.DataPoint
}

// EventHub delivers only what is broadcast after a listener subscribes. History lives in the store.
type EventHub struct {
	mu        sync.Mutex
	listeners map[uint64]chan Event
	nextID    uint64
}

func NewHub() *EventHub {
	return &EventHub{listeners: make(map[uint64]chan Event)}
}

// Subscribe registers a listener. unsubscribe closes its channel and is safe to call more than once.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, SUBSCRIBER_BUFFER)
	h.listeners[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if listener, ok := h.listeners[id]; ok {
			delete(h.listeners, id)
			close(listener)
		}
	}
	return ch, unsubscribe
}

// Broadcast never blocks. A listener whose buffer is full misses the event.
func (h *EventHub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, listener := range h.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
