// Package sse fans prediction updates out to the live views of the session
// that produced them.
package sse

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nids-dash/nids-go/internal/features"
)

// Event is a message delivered to subscribers of one session.
type Event struct {
	Type string // "prediction"
	Data []byte // JSON payload
}

// PredictionPayload is the body of a "prediction" event.
type PredictionPayload struct {
	Label    int       `json:"label"`
	Category string    `json:"category"`
	Benign   bool      `json:"benign"`
	At       time.Time `json:"at"`
}

// NewPredictionEvent encodes a prediction update.
func NewPredictionEvent(label features.Label, at time.Time) Event {
	c, _ := features.Lookup(label)
	data, _ := json.Marshal(PredictionPayload{
		Label:    int(label),
		Category: c.Name,
		Benign:   c.Benign,
		At:       at.UTC(),
	})
	return Event{Type: "prediction", Data: data}
}

// Hub routes events by session ID. A subscriber only ever sees events
// published for its own session.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{}), logger: logger}
}

// Subscribe registers a listener for sessionID. The returned cancel func must
// be called when the listener goes away; it closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	set := h.subs[sessionID]
	if set == nil {
		set = make(map[chan Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every listener of sessionID. Slow listeners miss
// the event rather than block the publisher.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("sse: dropped event for slow client", "session_id", sessionID, "type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of listeners for sessionID.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
