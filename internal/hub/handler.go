package hub

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback; the shell connects locally
		return true
	},
}

// ServeWS upgrades the request and attaches the client to the hub. On
// connect the client immediately receives the current status snapshot the
// caller provides, so it never renders an unknown state.
func (h *Hub) ServeWS(snapshot func() Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Errorf("upgrade failed: %v", err)
			return
		}

		client := h.NewClient(conn)
		h.register <- client

		go client.WritePump()

		if snapshot != nil {
			if data, err := json.Marshal(snapshot()); err == nil {
				client.send <- data
			}
		}

		client.ReadPump()
	}
}
