package websocket

import (
	"context"
	"sync"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
)

// Message defines the generic structure for WS communication
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotFunc produces the messages a client receives right after connecting.
type SnapshotFunc func() []Message

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	snapshot   SnapshotFunc
	done       chan struct{}
	log        *logger.Logger
	mu         sync.RWMutex
}

func NewHub(snapshot SnapshotFunc, log *logger.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		snapshot:   snapshot,
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run forwards engine events from source to every client until ctx is done.
// It must be called once.
func (h *Hub) Run(ctx context.Context, source <-chan models.Event) {
	h.log.Info("WebSocket Hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("WebSocket Hub shutting down...")
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Info("New WS Client connected. Total: %d", count)
			h.greet(client)

		case client := <-h.unregister:
			h.remove(client)

		case ev, ok := <-source:
			if !ok {
				source = nil
				continue
			}
			h.fanOut(Message{Type: string(ev.Type), Payload: ev})
		}
	}
}

func (h *Hub) greet(client *Client) {
	if h.snapshot == nil {
		return
	}
	for _, msg := range h.snapshot() {
		select {
		case client.send <- msg:
		default:
			h.remove(client)
			return
		}
	}
}

func (h *Hub) fanOut(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// ClientCount reports the connected dashboards, for health checks.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
