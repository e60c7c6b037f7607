package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"TrackHub/core/pipeline"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, hub *Hub, trackID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Subscribe(conn, trackID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Subscribers(trackID) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) pipeline.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev pipeline.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHub_DeliversEventsForTrack(t *testing.T) {
	hub := NewHub(time.Minute)
	conn := startHub(t, hub, "t1")

	hub.Notify(pipeline.Event{TrackID: "other", Stage: pipeline.StageAssemble, Status: pipeline.StatusStarted})
	hub.Notify(pipeline.Event{TrackID: "t1", Stage: pipeline.StageTranscode, Status: pipeline.StatusStarted})

	ev := readEvent(t, conn)
	assert.Equal(t, "t1", ev.TrackID)
	assert.Equal(t, pipeline.StageTranscode, ev.Stage)
}

func TestHub_LateSubscriberGetsLastEvent(t *testing.T) {
	hub := NewHub(time.Minute)
	hub.Notify(pipeline.Event{TrackID: "t2", Stage: pipeline.StagePublish, Status: pipeline.StatusCompleted})

	conn := startHub(t, hub, "t2")
	ev := readEvent(t, conn)
	assert.Equal(t, pipeline.StagePublish, ev.Stage)
	assert.Equal(t, pipeline.StatusCompleted, ev.Status)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub := NewHub(time.Minute)
	conn := startHub(t, hub, "t3")
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Subscribers("t3") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub(time.Minute)
	conn := startHub(t, hub, "t4")
	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// notifications after close are ignored
	hub.Notify(pipeline.Event{TrackID: "t4"})
}

// register adds a client without a websocket so tests can drive
// unregister directly.
func register(h *Hub, trackID string) *Client {
	c := &Client{hub: h, send: make(chan []byte, sendBuffer), trackID: trackID}
	h.mu.Lock()
	if h.tracks[trackID] == nil {
		h.tracks[trackID] = make(map[*Client]bool)
	}
	h.tracks[trackID][c] = true
	h.mu.Unlock()
	return c
}

func TestHub_NotifyRacesUnregisterAndClose(t *testing.T) {
	for round := 0; round < 200; round++ {
		hub := NewHub(time.Minute)
		clients := make([]*Client, 100)
		for i := range clients {
			clients[i] = register(hub, "t1")
		}

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				hub.Notify(pipeline.Event{TrackID: "t1", Stage: pipeline.StageAssemble, Status: pipeline.StatusStarted})
			}
		}()
		go func() {
			defer wg.Done()
			for _, c := range clients[:50] {
				hub.unregister(c)
			}
		}()
		go func() {
			defer wg.Done()
			hub.Close()
		}()
		wg.Wait()
		assert.Equal(t, 0, hub.Subscribers("t1"))
	}
}
