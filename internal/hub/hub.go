package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"gametracker/backend/internal/library"
)

// TopicLibrary carries library change events.
const TopicLibrary = "library"

// EventLibraryUpdated is sent after every library change.
const EventLibraryUpdated = "library.updated"

// EventLibrarySnapshot carries the state a subscriber starts from. It is
// not a change, so pages must not redraw on it.
const EventLibrarySnapshot = "library.snapshot"

// Event represents a real-time event to be sent to clients.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LibrarySnapshot is the payload of library events: the current
// filtered view (render sink) and the counts (stats sink).
type LibrarySnapshot struct {
	Games  []library.GameRecord `json:"games"`
	Counts library.Counts       `json:"counts"`
}

// Client represents a single subscriber connection.
// It's essentially a channel that the SSE handler will listen to.
type Client chan []byte

// Hub fans events out to the clients subscribed to a topic.
type Hub struct {
	topics map[string]map[Client]bool
	mu     sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[Client]bool),
	}
}

// Subscribe adds a new client to a topic.
func (h *Hub) Subscribe(topic string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[Client]bool)
	}
	h.topics[topic][client] = true
}

// Unsubscribe removes a client from a topic.
func (h *Hub) Unsubscribe(topic string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.topics[topic]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client) // Close the channel to signal the SSE handler to stop.
			if len(clients) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// Subscribers returns the number of clients on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Broadcast sends an event to all clients of a topic.
func (h *Hub) Broadcast(topic string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.topics[topic]
	if !ok {
		return
	}
	messageBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode hub event", "topic", topic, "type", event.Type, "error", err)
		return
	}

	for client := range clients {
		// Use a non-blocking send to prevent a slow client from blocking the hub.
		select {
		case client <- messageBytes:
		default:
			// Client channel is full; the SSE handler unsubscribes it when the connection drops.
		}
	}
}

// LibraryChanged relays a library change to the library topic.
func (h *Hub) LibraryChanged(view []library.GameRecord, counts library.Counts) {
	h.Broadcast(TopicLibrary, Event{
		Type:    EventLibraryUpdated,
		Payload: LibrarySnapshot{Games: view, Counts: counts},
	})
}
