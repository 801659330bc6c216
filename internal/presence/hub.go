// Package presence delivers live check-in events to observers of a session.
// Delivery is best-effort, at most once per currently-connected observer:
// there is no durable queue and no replay for late joiners.
package presence

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the active WebSocket clients and their session subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// topics maps a session id to its current subscribers. A client belongs
	// to exactly the topics it has explicitly joined.
	topics map[string]map[*Client]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		topics:  make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and every topic it joined, then
// closes its send channel. Other subscribers on the same topics are
// unaffected. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for sessionID, subs := range h.topics {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.topics, sessionID)
			}
		}
		close(c.send)
	}
	h.mu.Unlock()
}

// Join subscribes a client to a session's topic.
func (h *Hub) Join(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.topics[sessionID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[sessionID] = subs
	}
	subs[c] = struct{}{}
}

// Leave removes a client from a session's topic.
func (h *Hub) Leave(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sessionID]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, sessionID)
	}
}

// Publish sends payload to every current subscriber of the session's topic.
// A subscriber whose buffer is full misses the event rather than blocking
// the publisher.
func (h *Hub) Publish(sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("presence: marshal publish: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[sessionID] {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop rather than block the fan-out.
		}
	}
}

// SubscriberCount returns the number of subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[sessionID])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
