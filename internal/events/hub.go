package events

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/offsync/opqueue/internal/domain"
)

// Hub broadcasts bus events to websocket clients so UIs and telemetry
// collectors can follow the queue live.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	logger    *slog.Logger
}

// NewHub creates a websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// Run forwards events from the bus to all connected clients until the
// subscription channel closes.
func (h *Hub) Run(events <-chan domain.Event) {
	for evt := range events {
		h.broadcast(evt)
	}
}

// Serve upgrades an HTTP request to a websocket connection and tracks
// the client until it disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Info("Websocket client connected",
		slog.Int("clients", total),
	)

	// Drain reads to detect disconnects; the stream is write-only.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(evt domain.Event) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(evt); err != nil {
			h.logger.Warn("Failed to write websocket event",
				slog.String("event", string(evt.Type)),
				slog.String("error", err.Error()),
			)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
	}
	total := len(h.clients)
	h.clientsMu.Unlock()

	conn.Close()
	h.logger.Info("Websocket client disconnected",
		slog.Int("clients", total),
	)
}
