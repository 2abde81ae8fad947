package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/fonodesk/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestHubBroadcastsEventsToRoom(t *testing.T) {
	log := testutil.Logger()
	hub := NewHub(log)

	snapshot := func() any { return map[string]string{"stage": "idle"} }
	srv := httptest.NewServer(WSHandler(hub, NewUpgrader(nil), "workstation", snapshot, log))
	defer srv.Close()

	mine := dial(t, srv, "")
	other := dial(t, srv, "?roomID=elsewhere")

	first := readJSON(t, mine)
	assert.Equal(t, "snapshot", first["type"])
	readJSON(t, other)

	require.Eventually(t, func() bool { return hub.Conns("workstation") == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan ports.PipelineEvent, 1)
	go hub.Run(ctx, events)

	pct := 40
	events <- ports.PipelineEvent{RoomID: "workstation", Type: ports.EventProgress, Stage: "uploading", Progress: &pct}

	got := readJSON(t, mine)
	assert.Equal(t, "progress", got["type"])
	assert.EqualValues(t, 40, got["progress"])
	_, hasRoom := got["RoomID"]
	assert.False(t, hasRoom)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "other rooms must not receive the event")
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	log := testutil.Logger()
	hub := NewHub(log)
	srv := httptest.NewServer(WSHandler(hub, NewUpgrader(nil), "workstation", nil, log))
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Conns("workstation") == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Conns("workstation") == 0 }, time.Second, 5*time.Millisecond)
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader([]string{"https://dash.example"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://dash.example")
	assert.True(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(r))

	assert.True(t, NewUpgrader(nil).CheckOrigin(r))
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	hub := NewHub(testutil.Logger())
	events := make(chan ports.PipelineEvent)
	done := make(chan struct{})
	go func() {
		hub.Run(context.Background(), events)
		close(done)
	}()
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
