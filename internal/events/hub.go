// Package events fans delivery outcomes out to subscribed users so the
// HTTP layer can stream them live.
package events

import (
	"sync"
	"time"
)

// DeliveryEvent describes the outcome of one dispatch for one recipient.
type DeliveryEvent struct {
	From      string    `json:"from"`
	Recipient string    `json:"recipient"`
	Delivered bool      `json:"delivered"`
	Subject   string    `json:"subject"`
	At        time.Time `json:"at"`
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan DeliveryEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan DeliveryEvent]struct{})}
}

// Subscribe registers a listener for one user's events. The returned
// cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(email string) (chan DeliveryEvent, func()) {
	ch := make(chan DeliveryEvent, 8)
	h.mu.Lock()
	if _, ok := h.subs[email]; !ok {
		h.subs[email] = make(map[chan DeliveryEvent]struct{})
	}
	h.subs[email][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if subscribers, ok := h.subs[email]; ok {
			delete(subscribers, ch)
			if len(subscribers) == 0 {
				delete(h.subs, email)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
}

// Publish delivers the event to every subscriber of the given users.
// Slow subscribers are skipped rather than blocking the sender.
func (h *Hub) Publish(emails []string, event DeliveryEvent) {
	if len(emails) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, email := range emails {
		if email == "" {
			continue
		}
		unique[email] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for email := range unique {
		for ch := range h.subs[email] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}
