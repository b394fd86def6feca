package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/catalog-sync/internal/ingestion"
)

// Message types sent to progress clients.
const (
	MessageTypeConnected = "connected"
	MessageTypeProgress  = "progress"
)

// Message is one frame sent to progress clients.
type Message struct {
	Type      string              `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Progress  *ingestion.Snapshot `json:"progress,omitempty"`
}

// Hub fans loader progress out to websocket clients. It implements
// ingestion.Sink.
type Hub struct {
	log logrus.FieldLogger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. Call Start before publishing.
func NewHub(log logrus.FieldLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:       log.WithField("component", "progress_hub"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every client and ends the broadcast loop.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Publish queues a snapshot for broadcast. When the queue is full the
// snapshot is dropped.
func (h *Hub) Publish(s ingestion.Snapshot) {
	select {
	case h.broadcast <- Message{Type: MessageTypeProgress, Timestamp: s.Time, Progress: &s}:
	default:
		h.log.Warn("Progress channel full, dropping snapshot")
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.WithError(err).Error("Failed to marshal message")
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.log.WithError(err).Debug("Failed to send to client")
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	clientCount := len(h.clients)
	h.clientsMu.Unlock()
	h.log.WithField("clients", clientCount).Debug("Client connected")

	welcome, _ := json.Marshal(Message{Type: MessageTypeConnected, Timestamp: time.Now().UTC()})
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	h.readLoop(conn)
}

// readLoop discards client frames and returns when the connection ends.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.log.WithField("clients", clientCount).Debug("Client disconnected")
	} else {
		h.clientsMu.Unlock()
	}
}
