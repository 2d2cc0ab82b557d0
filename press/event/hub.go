package event

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const clientSendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Event stream is read-only telemetry, not an authenticated surface
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans lifecycle events out to connected websocket clients. Slow clients
// are dropped rather than allowed to stall the publisher.
type Hub struct {
	log     *zap.SugaredLogger
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Publish implements Publisher. Marshals the event once and hands it to every
// client's send queue without blocking.
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.log.Warnw("Failed to marshal event", "event", e.Name, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			// Client can't keep up - disconnect it
			h.log.Warnw("Dropping slow event subscriber", "remote", conn.RemoteAddr())
			delete(h.clients, conn)
			close(send)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("Websocket upgrade failed", "error", err)
		return
	}

	send := make(chan []byte, clientSendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = send
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Infow("Event subscriber connected", "remote", conn.RemoteAddr(), "subscribers", count)

	go h.writePump(conn, send)
	go h.readPump(conn)
}

// writePump drains the send queue to the connection.
func (h *Hub) writePump(conn *websocket.Conn, send chan []byte) {
	defer conn.Close()
	for data := range send {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(conn)
			return
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
}

// Close disconnects all clients. The hub accepts no new connections after.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
		conn.Close()
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
