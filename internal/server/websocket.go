package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/jeongseonghan/radiolink/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local control surface, same-host clients
	},
}

// WSMessage is the envelope for every WebSocket push.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *log.Logger) *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	h.logger.Debug("websocket client connected", "total", len(h.clients))
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
	h.logger.Debug("websocket client disconnected", "remaining", len(h.clients))
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket marshal", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("websocket write", "err", err)
			go h.RemoveClient(conn)
		}
	}
}

// BroadcastReceive pushes one reassembled inbound message.
func (h *WSHub) BroadcastReceive(ev session.ReceiveEvent) {
	h.Broadcast(WSMessage{Type: "receive", Payload: ev})
}

// BroadcastStatus pushes a link status snapshot.
func (h *WSHub) BroadcastStatus(st session.LinkStatus) {
	h.Broadcast(WSMessage{Type: "status", Payload: st})
}
