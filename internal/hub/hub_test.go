package hub

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinyang09/pilotlog/internal/broadcast"
)

func dialTestHub(t *testing.T, h *Hub, snapshot func() Event) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h.ServeWS(snapshot))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestServeWSSendsSnapshot(t *testing.T) {
	h := New()
	go h.Run()

	conn := dialTestHub(t, h, func() Event {
		return Event{Type: EventSyncStatus, Payload: map[string]string{"status": "offline"}}
	})

	event := readEvent(t, conn)
	assert.Equal(t, EventSyncStatus, event.Type)
}

func TestBindStreamsBroadcasterEvents(t *testing.T) {
	h := New()
	go h.Run()

	bc := broadcast.New(false)
	unbind := h.Bind(bc)
	defer unbind()

	conn := dialTestHub(t, h, nil)

	// Give the hub loop time to register the client
	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	bc.SetOnline(true)
	event := readEvent(t, conn)
	assert.Equal(t, EventSyncStatus, event.Type)

	bc.NotifyDataChanged()
	event = readEvent(t, conn)
	assert.Equal(t, EventDataChanged, event.Type)

	bc.ReportStuck(broadcast.StuckReport{Collection: "flights", ItemID: "item-1"})
	event = readEvent(t, conn)
	assert.Equal(t, EventItemStuck, event.Type)
}

func TestUnbindStopsDelivery(t *testing.T) {
	h := New()
	go h.Run()

	bc := broadcast.New(false)
	unbind := h.Bind(bc)

	conn := dialTestHub(t, h, nil)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	unbind()
	bc.SetOnline(true)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
