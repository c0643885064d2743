package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/pulse.report/internal/live"
)

// writeWait bounds each websocket write; a client that cannot keep up is
// dropped.
const writeWait = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Message types.
const (
	MessagePlayback = "playback"
	MessageLive     = "live"
)

// Hub fans snapshots out to connected websocket clients.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	// one writer per connection at a time
	writeMu sync.Mutex
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]bool)}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) broadcastText(b []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Diagf("dropping websocket client %s: %v", c.RemoteAddr(), err)
			_ = c.Close()
			h.remove(c)
		}
	}
}

// Broadcast JSON-encodes a Message and sends it to every client.
func (h *Hub) Broadcast(msgType string, data any) {
	if h.Clients() == 0 {
		return
	}
	b, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		logger.Opsf("failed to encode %s message: %v", msgType, err)
		return
	}
	h.broadcastText(b)
}

// BroadcastLive pushes a live monitor snapshot. It is shaped to be passed to
// live.Monitor.OnUpdate.
func (h *Hub) BroadcastLive(snap live.Snapshot) {
	h.Broadcast(MessageLive, snap)
}

// Run forwards every snapshot the player publishes until ctx is done.
func (h *Hub) Run(ctx context.Context, p Player) {
	id, ch := p.Subscribe()
	defer p.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(MessagePlayback, snap)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		_ = c.Close()
		h.remove(c)
	}
}

// ServeWS upgrades the request and holds the connection until the client
// goes away. Clients only receive; anything they send is discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.add(conn)
	logger.Diagf("websocket client connected from %s", r.RemoteAddr)
	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
