package websocket

import (
	"encoding/json"
	"log"
	"sync"

	syncpkg "github.com/gridpoint-io/meterwms/internal/sync"
)

// Hub maintains the set of connected dashboard clients and pushes sync
// and connectivity events to all of them.
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound messages for every client
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.ClientID]; ok {
				close(old.send)
			}
			h.clients[client.ClientID] = client
			h.mu.Unlock()
			log.Printf("📱 Dashboard client connected: %s", client.ClientID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ClientID]; ok {
				delete(h.clients, client.ClientID)
				close(client.send)
				log.Printf("📴 Dashboard client disconnected: %s", client.ClientID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full or client dead; drop the message.
					log.Printf("⚠️ Dropping message for slow client %s", id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(message interface{}) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
	}
}

// NotifySync implements the engine's notifier: every state transition
// of the sync engine is pushed to connected dashboards together with
// the remaining queue depth.
func (h *Hub) NotifySync(state syncpkg.State, pending int) {
	h.Broadcast(map[string]interface{}{
		"type":    "SYNC_STATUS",
		"state":   string(state),
		"pending": pending,
	})
}

// NotifyConnection pushes a connectivity flip to connected dashboards.
func (h *Hub) NotifyConnection(status syncpkg.ConnStatus) {
	h.Broadcast(map[string]interface{}{
		"type":   "CONNECTION_STATUS",
		"status": string(status),
	})
}
