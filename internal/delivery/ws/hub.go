package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Hub fans pipeline and recorder events out to dashboard connections grouped
// by room.
type Hub struct {
	log *logger.ZapLogger

	mu    sync.RWMutex
	rooms map[string]map[*client]bool
}

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func NewHub(log *logger.ZapLogger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]map[*client]bool),
	}
}

func (h *Hub) Register(roomID string, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*client]bool)
	}
	c := &client{conn: conn}
	h.rooms[roomID][c] = true

	h.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "[HUB][REGISTER]",
		Fields:  map[string]any{"room": roomID, "conns": len(h.rooms[roomID])},
	})
	return c
}

func (h *Hub) Unregister(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.rooms[roomID]
	if !ok {
		return
	}

	if _, ok := conns[c]; ok {
		delete(conns, c)
		c.conn.Close()
		h.log.Log(logger.LogEntry{
			Level:   "info",
			Message: "[HUB][UNREGISTER]",
			Fields:  map[string]any{"room": roomID, "conns": len(conns)},
		})
	}

	if len(conns) == 0 {
		delete(h.rooms, roomID)
	}
}

// Conns returns the number of live connections in a room.
func (h *Hub) Conns(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) SendToRoom(roomID string, msg []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	for _, c := range clients {
		if err := c.write(msg); err != nil {
			h.log.Log(logger.LogEntry{
				Level:   "warn",
				Message: "[HUB][SEND][FAIL]",
				Fields:  map[string]any{"room": roomID},
				Error:   err,
			})
		}
	}
}

// Run broadcasts events until ctx is done or the channel closes.
func (h *Hub) Run(ctx context.Context, events <-chan ports.PipelineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				h.log.Log(logger.LogEntry{Level: "error", Message: "[HUB][ENCODE][FAIL]", Error: err})
				continue
			}
			h.SendToRoom(ev.RoomID, b)
		}
	}
}

// NewUpgrader accepts handshakes from the allowed origins. An empty list
// accepts any origin.
func NewUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}
