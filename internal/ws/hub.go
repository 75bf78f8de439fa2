package ws

import (
	"encoding/json"
	"log"
	"sync"

	"messenger-service/internal/observability"
)

// Hub is the room registry: it maps named broadcast rooms to the live
// connections joined to them and answers presence queries by scanning them.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]bool)}
}

// Join adds the client to a room. Joining twice is a no-op.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
}

// Leave removes the client from a room, dropping the room when empty.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Forget removes the client from every room; called on disconnect.
func (h *Hub) Forget(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.rooms {
		h.leaveLocked(c, room)
	}
}

// IsUserPresent reports whether any live connection bound to the user is
// currently joined to the room. An unknown room yields false, which callers
// treat as "recipient absent".
func (h *Hub) IsUserPresent(userID int64, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[room] {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// Broadcast sends one event to every member of a room. Clients whose send
// buffer is full are disconnected rather than allowed to stall the fan-out.
func (h *Hub) Broadcast(room string, event string, data interface{}) {
	h.BroadcastMany([]string{room}, event, data)
}

// BroadcastMany sends one event to the union of the given rooms' members;
// a client in several of them receives it once.
func (h *Hub) BroadcastMany(rooms []string, event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("websocket marshal error event=%s: %v", event, err)
		return
	}
	payload, _ := json.Marshal(Envelope{Event: event, Data: raw})

	targets := make(map[*Client]bool)
	h.mu.RLock()
	for _, room := range rooms {
		for client := range h.rooms[room] {
			targets[client] = true
		}
	}
	h.mu.RUnlock()

	for client := range targets {
		if !client.enqueue(payload) {
			log.Printf("websocket send buffer full, dropping conn_id=%s user_id=%d", client.ConnID, client.UserID)
			observability.IncWSEvent("outbound", "drop")
			h.Forget(client)
			client.Close()
			continue
		}
		observability.IncWSEvent("outbound", event)
	}
}
