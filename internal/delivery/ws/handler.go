package ws

import (
	"encoding/json"
	"net/http"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/gorilla/websocket"
)

// Snapshotter returns the current state sent to a client right after it joins.
type Snapshotter func() any

// WSHandler subscribes a dashboard connection to its room. Clients only
// listen; anything they send is ignored.
func WSHandler(hub *Hub, upgrader websocket.Upgrader, defaultRoom string, snapshot Snapshotter, log *logger.ZapLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Log(logger.LogEntry{Level: "warn", Message: "[WS][UPGRADE][FAIL]", Error: err})
			return
		}

		roomID := r.URL.Query().Get("roomID")
		if roomID == "" {
			roomID = defaultRoom
		}

		c := hub.Register(roomID, conn)
		defer hub.Unregister(roomID, c)

		if snapshot != nil {
			b, err := json.Marshal(map[string]any{"type": "snapshot", "state": snapshot()})
			if err == nil {
				_ = c.write(b)
			}
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
