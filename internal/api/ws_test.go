package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/hrv"
	"github.com/banshee-data/pulse.report/internal/live"
	"github.com/banshee-data/pulse.report/internal/playback"
)

// fakePlayer hands Run an unbuffered channel so each send is observed.
type fakePlayer struct {
	ch chan playback.Snapshot

	mu    sync.Mutex
	unsub bool
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{ch: make(chan playback.Snapshot)}
}

func (p *fakePlayer) Snapshot() playback.Snapshot { return playback.Snapshot{} }
func (p *fakePlayer) Intervals() []float64        { return nil }
func (p *fakePlayer) Start()                      {}
func (p *fakePlayer) Stop()                       {}
func (p *fakePlayer) Reset()                      {}

func (p *fakePlayer) Subscribe() (string, <-chan playback.Snapshot) { return "fake", p.ch }

func (p *fakePlayer) Unsubscribe(string) {
	p.mu.Lock()
	p.unsub = true
	p.mu.Unlock()
}

func (p *fakePlayer) unsubscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsub
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return srv.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, b, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &msg))
	return msg.Type, msg.Data
}

func TestHub_ForwardsPlaybackSnapshots(t *testing.T) {
	p := newFakePlayer()
	srv := NewServer(Options{Player: p})
	conn := dial(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx, p)

	p.ch <- playback.Snapshot{Seq: 7, State: playback.Playing, BPM: hrv.Some(61.5)}

	typ, data := readMessage(t, conn)
	assert.Equal(t, MessagePlayback, typ)
	var snap playback.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, uint64(7), snap.Seq)
	assert.Equal(t, hrv.Some(61.5), snap.BPM)
}

func TestHub_BroadcastLive(t *testing.T) {
	srv := NewServer(Options{Player: newFakePlayer()})
	conn := dial(t, srv)

	srv.Hub().BroadcastLive(live.Snapshot{Device: "Polar H10", Connected: true, BPM: hrv.Some(72)})

	typ, data := readMessage(t, conn)
	assert.Equal(t, MessageLive, typ)
	var snap live.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "Polar H10", snap.Device)
	assert.True(t, snap.Connected)
}

func TestHub_ClientGoneIsRemoved(t *testing.T) {
	srv := NewServer(Options{Player: newFakePlayer()})
	conn := dial(t, srv)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return srv.Hub().Clients() == 0 }, time.Second, 5*time.Millisecond)

	// no clients: nothing to encode or write
	srv.Hub().Broadcast(MessageLive, live.Snapshot{})
}

func TestHub_Close(t *testing.T) {
	srv := NewServer(Options{Player: newFakePlayer()})
	conn := dial(t, srv)

	srv.Hub().Close()
	assert.Equal(t, 0, srv.Hub().Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
