// Package web provides the optional local status server: a chi router
// exposing session state and station queries, plus a websocket stream of
// emitted records for live dashboards.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tracklog/internal/stations"
	"tracklog/internal/types"
)

// streamFrame is the JSON document pushed to websocket clients for every
// emitted record.
type streamFrame struct {
	Record  types.EmittedRecord       `json:"record"`
	Nearest *stations.StationDistance `json:"nearest_station,omitempty"`
	Stamp   int64                     `json:"stamp"` // Unix ms
}

// Hub fans emitted records out to connected websocket clients. Each client
// gets a buffered send channel; a client that cannot keep up has frames
// dropped rather than stalling the broadcaster.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			// The server binds to loopback; cross-origin pages on the
			// device are allowed to watch the stream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast pushes one record to every connected client.
func (h *Hub) Broadcast(rec types.EmittedRecord, nearest *stations.StationDistance) {
	frame := streamFrame{
		Record:  rec,
		Nearest: nearest,
		Stamp:   time.Now().UnixMilli(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow; drop this frame for it.
		}
	}
}

// ClientCount returns the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and services the client until it
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("stream client connected", "clients", total)

	// Writer goroutine.
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Reader goroutine; its exit (client hangup) tears the client down.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, client)
			total := len(h.clients)
			h.mu.Unlock()
			close(client.send)
			h.logger.Info("stream client disconnected", "clients", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
