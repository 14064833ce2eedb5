package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"packmarket/internal/logger"
)

// Hub tracks open connections per user and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	log     *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		log:     logger.Component("ws"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.log.Debug("client registered", "user_id", c.UserID, "connections", len(set))
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.Send)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	h.log.Debug("client unregistered", "user_id", c.UserID)
}

// Online returns the number of open connections of a user
func (h *Hub) Online(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Notify queues an event for every connection of the user. A connection
// whose buffer is full misses the event.
func (h *Hub) Notify(userID int64, event string, payload interface{}) {
	msg, err := json.Marshal(Event{Type: event, Data: payload, At: time.Now().UTC()})
	if err != nil {
		h.log.Error("failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.Send <- msg:
		default:
			h.log.Warn("client send buffer full, event dropped", "user_id", userID, "event", event)
		}
	}
}
