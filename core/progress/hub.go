// Package progress fans pipeline events out to websocket subscribers.
package progress

import (
	"encoding/json"
	"sync"
	"time"

	"TrackHub/core/pipeline"
	"TrackHub/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// Client is one websocket subscriber of a track.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	trackID string
}

// Hub 进度推送中心
type Hub struct {
	mu      sync.RWMutex
	tracks  map[string]map[*Client]bool
	last    map[string][]byte // latest event per track
	closed  bool
	lastTTL time.Duration
	lastAt  map[string]time.Time
}

// NewHub creates a Hub. The latest event of a track is kept for lastTTL so
// late subscribers see the current state.
func NewHub(lastTTL time.Duration) *Hub {
	return &Hub{
		tracks:  make(map[string]map[*Client]bool),
		last:    make(map[string][]byte),
		lastAt:  make(map[string]time.Time),
		lastTTL: lastTTL,
	}
}

// Notify implements pipeline.Notifier. Slow subscribers drop messages.
func (h *Hub) Notify(ev pipeline.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("序列化进度事件失败", logger.ErrorField(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	defer h.mu.Unlock()
	h.last[ev.TrackID] = data
	h.lastAt[ev.TrackID] = time.Now()
	h.pruneLocked()

	// sends happen under h.mu: unregister and Close close c.send while holding it
	for c := range h.tracks[ev.TrackID] {
		select {
		case c.send <- data:
		default:
			logger.Debug("进度订阅者缓冲区已满，丢弃消息", logger.String("trackId", c.trackID))
		}
	}
}

// pruneLocked drops cached events older than lastTTL.
func (h *Hub) pruneLocked() {
	if h.lastTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-h.lastTTL)
	for id, at := range h.lastAt {
		if at.Before(cutoff) && len(h.tracks[id]) == 0 {
			delete(h.lastAt, id)
			delete(h.last, id)
		}
	}
}

// Subscribe registers conn for trackID and starts its pumps. It returns
// once the connection closes.
func (h *Hub) Subscribe(conn *websocket.Conn, trackID string) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), trackID: trackID}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.tracks[trackID] == nil {
		h.tracks[trackID] = make(map[*Client]bool)
	}
	h.tracks[trackID][c] = true
	if data, ok := h.last[trackID]; ok {
		c.send <- data
	}
	h.mu.Unlock()

	logger.Info("进度订阅已建立", logger.String("trackId", trackID))
	go c.writePump()
	c.readPump()
}

// Subscribers returns the number of clients watching trackID.
func (h *Hub) Subscribers(trackID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tracks[trackID])
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.tracks[c.trackID]; ok && clients[c] {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.tracks, c.trackID)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, clients := range h.tracks {
		for c := range clients {
			close(c.send)
		}
		delete(h.tracks, id)
	}
}

// readPump discards client messages and keeps the read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					logger.String("trackId", c.trackID),
					logger.ErrorField(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
