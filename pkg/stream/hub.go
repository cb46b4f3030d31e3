// Package stream fans reconcile events out to live subscribers (the
// dashboard's websocket feed). Publishing never blocks: a subscriber that
// cannot keep up drops events rather than stalling reconciliation.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

type Event struct {
	Type   string          `json:"type"`
	Tenant string          `json:"tenant,omitempty"`
	At     string          `json:"at"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType, tenant string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{
		Type:   eventType,
		Tenant: tenant,
		At:     time.Now().UTC().Format(time.RFC3339Nano),
		Data:   raw,
	}
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]string
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]string{}}
}

// Subscribe registers a listener for one tenant's events; an empty tenant
// receives everything.
func (h *Hub) Subscribe(tenant string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = tenant
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, tenant := range h.subs {
		if tenant != "" && tenant != evt.Tenant {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
}
