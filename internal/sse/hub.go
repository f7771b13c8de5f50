package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/sitepulse/internal/analytics"
)

// Event is one server-sent event. An empty Type is sent as a plain message.
type Event struct {
	Type    string
	Payload []byte
}

// WriteTo writes e in text/event-stream framing.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var n int
	var err error
	if e.Type != "" {
		n, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.Payload)
	} else {
		n, err = fmt.Fprintf(w, "data: %s\n\n", e.Payload)
	}
	return int64(n), err
}

// Hub fans events out to subscribers. Slow subscribers miss events rather
// than block the publisher.
type Hub struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	buffer  int
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan Event]struct{}), buffer: 16}
}

// Subscribe returns a channel of events and a func that unsubscribes.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// ClientCount returns the number of current subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a named event to every subscriber.
func (h *Hub) Broadcast(eventType string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- Event{Type: eventType, Payload: payload}:
		default:
		}
	}
}

// Publish broadcasts a stored analytics event as a "track" event.
func (h *Hub) Publish(e analytics.Event) {
	if h.ClientCount() == 0 {
		return
	}
	buf, err := json.Marshal(e)
	if err != nil {
		slog.Warn("encode live event", "error", err)
		return
	}
	h.Broadcast("track", buf)
}
