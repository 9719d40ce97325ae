// Package hub streams sync events to UI collaborators over WebSocket. It
// bridges the in-process broadcaster to connected clients so a desktop or
// mobile shell can show sync status without polling.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chinyang09/pilotlog/internal/broadcast"
	"github.com/chinyang09/pilotlog/internal/observability"
)

// Event types pushed to clients
const (
	EventSyncStatus  = "sync_status"
	EventDataChanged = "data_changed"
	EventItemStuck   = "item_stuck"
)

// Event is a WebSocket message to a UI collaborator
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StuckPayload describes a permanently failed queue item
type StuckPayload struct {
	Collection string `json:"collection"`
	ItemID     string `json:"itemId"`
	Error      string `json:"error"`
}

// Client is one connected UI collaborator
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	closedOnce sync.Once
}

// Hub manages WebSocket connections and fans broadcaster events out to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *observability.Logger
}

// New creates a Hub
func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     observability.WithField("component", "hub"),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full; the client stopped reading
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Bind subscribes the hub to the broadcaster. Returns a function that
// detaches all three subscriptions.
func (h *Hub) Bind(bc *broadcast.Broadcaster) func() {
	unsubStatus := bc.Subscribe(func(status broadcast.Status) {
		h.Publish(Event{Type: EventSyncStatus, Payload: map[string]string{"status": string(status)}})
	})
	unsubData := bc.OnDataChanged(func() {
		h.Publish(Event{Type: EventDataChanged})
	})
	unsubStuck := bc.OnStuck(func(report broadcast.StuckReport) {
		payload := StuckPayload{Collection: report.Collection, ItemID: report.ItemID}
		if report.Err != nil {
			payload.Error = report.Err.Error()
		}
		h.Publish(Event{Type: EventItemStuck, Payload: payload})
	})

	return func() {
		unsubStatus()
		unsubData()
		unsubStuck()
	}
}

// Publish sends an event to every connected client
func (h *Hub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorf("marshal event: %v", err)
		return
	}
	h.broadcast <- data
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient creates a client attached to this hub
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.closedOnce.Do(func() {
		c.hub.unregister <- c
		c.conn.Close()
	})
}

// WritePump pumps hub messages to the connection with ping keepalive
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump drains the connection for pongs and close frames. Clients are
// listeners only; incoming text is ignored.
func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugf("read error: %v", err)
			}
			break
		}
	}
}
